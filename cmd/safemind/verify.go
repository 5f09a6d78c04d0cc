package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/safemind/internal/anchor"
	"github.com/ent0n29/safemind/internal/submission"
)

var (
	verifyPayloadPath string
	verifySignature   string
	verifyPublicKey   string
	verifyProofHash   string
	verifyDatabaseURL string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a signed report payload against its proof token, signature and ledger entry",
	Long: `verify recomputes the proof token embedded in a report payload. With
--signature and --public-key it also checks the ed25519 signature, and with
--proof-hash, which needs --signature, it recomputes the anchor hash and, when a database is configured,
looks the entry up in the ledger.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPayloadPath, "payload", "", "path to the signed payload text (required)")
	verifyCmd.Flags().StringVar(&verifySignature, "signature", "", "hex ed25519 signature over the payload")
	verifyCmd.Flags().StringVar(&verifyPublicKey, "public-key", "", "hex ed25519 public key of the signer")
	verifyCmd.Flags().StringVar(&verifyProofHash, "proof-hash", "", "0x-prefixed anchor proof hash")
	verifyCmd.Flags().StringVar(&verifyDatabaseURL, "database-url", "", "ledger database; defaults to DATABASE_URL")
	_ = verifyCmd.MarkFlagRequired("payload")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	raw, err := os.ReadFile(verifyPayloadPath)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	payload := strings.TrimRight(string(raw), "\n")
	out := cmd.OutOrStdout()
	if verifyProofHash != "" && verifySignature == "" {
		return fmt.Errorf("--proof-hash needs --signature to recompute the anchor hash")
	}

	if !submission.VerifyProofToken(payload) {
		return fmt.Errorf("proof token does not match payload content")
	}
	fmt.Fprintln(out, "proof token: ok")

	if verifySignature != "" {
		pub, err := hex.DecodeString(strings.TrimPrefix(verifyPublicKey, "0x"))
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("--public-key must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
		if !submission.VerifyEd25519(ed25519.PublicKey(pub), payload, verifySignature) {
			return fmt.Errorf("signature does not verify")
		}
		fmt.Fprintf(out, "signature: ok (signer %s)\n", submission.IdentityFromPublicKey(pub))
	}

	if verifyProofHash == "" {
		return nil
	}
	if !strings.EqualFold(anchor.ProofHash(payload, verifySignature), verifyProofHash) {
		return fmt.Errorf("proof hash does not match payload and signature")
	}
	fmt.Fprintln(out, "proof hash: ok")

	dbURL := verifyDatabaseURL
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		fmt.Fprintln(out, "ledger: skipped (no database configured)")
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	ledger, err := anchor.NewPostgresLedger(ctx, dbURL)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entry, err := ledger.Lookup(ctx, verifyProofHash)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if entry.Payload != payload {
		return fmt.Errorf("ledger entry %s holds a different payload", entry.ProofHash)
	}
	fmt.Fprintf(out, "ledger: ok (anchored %s)\n", entry.AnchoredAt.Format(time.RFC3339))
	return nil
}
