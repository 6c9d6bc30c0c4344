// Command keygen writes a new Ed25519 signing key pair for the captcha server.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/codecaptcha/internal/keys"
)

func main() {
	dir := flag.String("dir", "./captcha_data", "directory receiving private.pem and public.pem")
	force := flag.Bool("force", false, "overwrite an existing key pair")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*dir, *force); err != nil {
		slog.Error("Key generation failed", "error", err)
		os.Exit(1)
	}
}

func run(dir string, force bool) error {
	if !force {
		_, err := os.Stat(filepath.Join(dir, keys.PrivateKeyFile))
		if err == nil {
			return fmt.Errorf("%s already holds a key pair; pass -force to replace it", dir)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("check existing key: %w", err)
		}
	}

	pair, err := keys.Generate()
	if err != nil {
		return err
	}
	if err := keys.ExportPair(pair, dir); err != nil {
		return err
	}
	slog.Info("Key pair written",
		"private", filepath.Join(dir, keys.PrivateKeyFile),
		"public", filepath.Join(dir, keys.PublicKeyFile))
	return nil
}
