package cli

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"teiten/internal/server"
)

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "サーバーのポート (デフォルト: 8080)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTP APIサーバーを起動する",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// コマンドラインオプションで設定を上書き
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		directory, err := cfg.OpenDirectory()
		if err != nil {
			return err
		}
		manager, err := openManager(cfg)
		if err != nil {
			return err
		}

		srv := server.New(cfg, manager, directory)

		log.Printf("teiten サーバーを起動します: %s", cfg.ServerAddress())
		return srv.Start(context.Background())
	},
}
