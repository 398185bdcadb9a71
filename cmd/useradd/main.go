// アカウント登録コマンドのエントリポイント。
// ユーザー名とパスワードを受け取り、ハッシュ化したパスワードをCredential Storeに登録する。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/auth"
	"github.com/nao1215/topicdigest/internal/config"
	"github.com/nao1215/topicdigest/internal/credential"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd はuseraddコマンドを生成する。
func newRootCmd() *cobra.Command {
	var (
		username    string
		password    string
		databaseURL string
	)

	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Gatewayにログインできるアカウントを登録する",
		Long: `useradd はユーザー名とパスワードをCredential Storeに登録する。
パスワードはargon2idでハッシュ化して保存する。
接続先は --database-url、未指定の場合は環境変数 DATABASE_URL を使う。`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if databaseURL == "" {
				var err error
				databaseURL, err = config.DatabaseURL(".")
				if err != nil {
					return err
				}
			}
			if err := addUser(cmd.Context(), databaseURL, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ユーザー %s を登録しました\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "登録するユーザー名")
	cmd.Flags().StringVar(&password, "password", "", "登録するパスワード")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Credential Storeの接続先")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// addUser はパスワードをハッシュ化してユーザーを登録する。
func addUser(ctx context.Context, databaseURL, username, password string) error {
	store, err := credential.Open(databaseURL, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	err = store.Create(ctx, credential.Credential{Username: username, PasswordHash: hash})
	if errors.Is(err, credential.ErrAlreadyExists) {
		return fmt.Errorf("ユーザー %s は既に登録されています", username)
	}
	return err
}
