package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sufield/trustbundle/internal/bundlemap"
	"github.com/sufield/trustbundle/internal/snapshot"
)

var lintCmd = &cobra.Command{
	Use:   "lint <bundle-map.json>",
	Short: "Validate a trust-bundle-map file",
	Long: `Load a trust-bundle-map file with the same all-or-nothing rules the
validator applies on reload, and report its trust domains, certificate
counts, and the days until the first CA certificate expires.

A file that lints cleanly will be accepted by a running validator's
hot-reload; a file that fails would be discarded, leaving the previous
trust bundles in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := bundlemap.Load(args[0], slog.Default())
		if err != nil {
			return err
		}

		for _, name := range snap.Domains() {
			store, _ := snap.StoreFor(name)
			fmt.Printf("trust domain %s: %d CA certificate(s)\n", name, len(store.Certificates()))
		}
		fmt.Printf("total CA certificates: %d\n", len(snap.CACertificates()))

		if days, ok := snap.DaysUntilFirstExpiry(time.Now()); !ok {
			fmt.Println("days until first CA expiry: unknown")
		} else if days == snapshot.InfiniteDays {
			fmt.Println("days until first CA expiry: none (no CA certificates)")
		} else {
			fmt.Printf("days until first CA expiry: %d\n", days)
		}

		if hint := snap.RefreshHint(); hint > 0 {
			fmt.Printf("refresh hint: %s\n", hint)
		}
		if seq := snap.Sequence(); seq > 0 {
			fmt.Printf("sequence: %d\n", seq)
		}
		return nil
	},
}
