package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/keystore"
	"github.com/quietloop/vaultsync/internal/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the end-to-end encryption vault",
		Long: `Manage the E2EE master key: initialize a vault, unlock it, rotate the
password, export or use a recovery code, and inspect the key fingerprint.
The master key never leaves this machine except inside the encrypted
lock file stored on the remote.`,
	}

	cmd.AddCommand(newVaultInitCmd())
	cmd.AddCommand(newVaultUnlockCmd())
	cmd.AddCommand(newVaultRotateCmd())
	cmd.AddCommand(newVaultExportRecoveryCmd())
	cmd.AddCommand(newVaultRecoverCmd())
	cmd.AddCommand(newVaultFingerprintCmd())
	cmd.AddCommand(newVaultLockCmd())

	return cmd
}

// promptNewPassword reads and confirms a password, enforcing the input
// policy.
func promptNewPassword() (string, error) {
	password, err := readLine("New vault password: ")
	if err != nil {
		return "", err
	}
	if err := checkPasswordPolicy(password); err != nil {
		return "", err
	}
	confirm, err := readLine("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

// unlockFromRemote downloads the lock file and unlocks a fresh vault
// with the given password.
func unlockFromRemote(ctx context.Context, adapter *cloudapi.RESTAdapter, cc *CLIContext, password string) (*vault.Vault, error) {
	blob, exists, err := downloadLockFile(ctx, adapter)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no vault initialized on this remote (run 'vaultsync vault init')")
	}
	vlt := vault.New(cc.Logger)
	if err := vlt.UnlockVault(blob, password); err != nil {
		return nil, err
	}
	return vlt, nil
}

func newVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new E2EE vault on the remote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			if _, exists, err := downloadLockFile(cmd.Context(), adapter); err != nil {
				return err
			} else if exists {
				return fmt.Errorf("a vault already exists on this remote; use 'vault rotate-password' or 'vault recover'")
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}

			vlt := vault.New(cc.Logger)
			blob, err := vlt.InitializeNewVault(password)
			if err != nil {
				return err
			}
			if err := uploadLockFile(cmd.Context(), adapter, blob); err != nil {
				return err
			}

			fp, _ := vlt.GetKeyFingerprint()
			statusf("Vault initialized. Key fingerprint: %s\n", fp)
			statusf("Store a recovery code now with 'vaultsync vault export-recovery'.\n")
			return nil
		},
	}
}

func newVaultUnlockCmd() *cobra.Command {
	var flagRemember bool

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Verify the vault password, optionally remembering it",
		Long: `Verify the vault password against the remote lock file. With
--remember, the password is stored in the OS keyring (file-backed where
no keyring is available) so sync can unlock the vault automatically.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			password, err := readLine("Vault password: ")
			if err != nil {
				return err
			}
			vlt, err := unlockFromRemote(cmd.Context(), adapter, cc, password)
			if err != nil {
				return err
			}

			fp, _ := vlt.GetKeyFingerprint()
			statusf("Vault unlocked. Key fingerprint: %s\n", fp)

			if flagRemember {
				ks := keystore.New(keystorePath(), cc.Logger)
				if err := ks.SetSecret(vaultPasswordSecret, password); err != nil {
					return fmt.Errorf("remembering password: %w", err)
				}
				statusf("Password remembered for automatic unlock.\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagRemember, "remember", false, "store the password for automatic unlock")
	return cmd
}

func newVaultRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-password",
		Short: "Change the vault password",
		Long: `Rewrap the master key under a new password. Already-encrypted
files stay valid: only the lock file changes, not the key itself.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			current, err := readLine("Current vault password: ")
			if err != nil {
				return err
			}
			vlt, err := unlockFromRemote(cmd.Context(), adapter, cc, current)
			if err != nil {
				return err
			}

			next, err := promptNewPassword()
			if err != nil {
				return err
			}
			blob, err := vlt.UpdatePassword(next)
			if err != nil {
				return err
			}
			if err := uploadLockFile(cmd.Context(), adapter, blob); err != nil {
				return err
			}

			// Keep any remembered password in step with the rotation.
			ks := keystore.New(keystorePath(), cc.Logger)
			if _, err := ks.GetSecret(vaultPasswordSecret); err == nil {
				if err := ks.SetSecret(vaultPasswordSecret, next); err != nil {
					cc.Logger.Warn("updating remembered password failed", "error", err)
				}
			}

			statusf("Password rotated.\n")
			return nil
		},
	}
}

func newVaultExportRecoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-recovery",
		Short: "Print the raw master key as a recovery code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			password, err := readLine("Vault password: ")
			if err != nil {
				return err
			}
			vlt, err := unlockFromRemote(cmd.Context(), adapter, cc, password)
			if err != nil {
				return err
			}

			code, err := vlt.ExportRecoveryCode()
			if err != nil {
				return err
			}
			fmt.Println(code)
			statusf("Anyone holding this code can decrypt your vault. Store it offline.\n")
			return nil
		},
	}
}

func newVaultRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore vault access from a recovery code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			code, err := readLine("Recovery code: ")
			if err != nil {
				return err
			}
			password, err := promptNewPassword()
			if err != nil {
				return err
			}

			vlt := vault.New(cc.Logger)
			blob, err := vlt.RecoverFromCode(code, password)
			if err != nil {
				return err
			}
			if err := uploadLockFile(cmd.Context(), adapter, blob); err != nil {
				return err
			}

			fp, _ := vlt.GetKeyFingerprint()
			statusf("Vault recovered. Key fingerprint: %s\n", fp)
			return nil
		},
	}
}

func newVaultFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the master key fingerprint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			password, err := readLine("Vault password: ")
			if err != nil {
				return err
			}
			vlt, err := unlockFromRemote(cmd.Context(), adapter, cc, password)
			if err != nil {
				return err
			}

			fp, err := vlt.GetKeyFingerprint()
			if err != nil {
				return err
			}
			fmt.Println(fp)
			return nil
		},
	}
}

func newVaultLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Forget the remembered vault password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ks := keystore.New(keystorePath(), cc.Logger)
			if err := ks.DeleteSecret(vaultPasswordSecret); err != nil {
				return err
			}
			statusf("Vault locked: remembered password removed.\n")
			return nil
		},
	}
}
