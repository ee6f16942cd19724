package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"teiten/internal/pidfile"
	"teiten/internal/timelapse"
)

var (
	exportFormat    string
	exportOutput    string
	exportOutputDir string
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", timelapse.FormatGIF, "書き出し形式 (gif, mp4, webm など)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "出力先ファイル (1件のみ指定時)")
	exportCmd.Flags().StringVar(&exportOutputDir, "output-dir", "", "出力先ディレクトリ (複数指定時)")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
}

// withManager は保存済みセッションを読み込んだマネージャーでfnを実行する
//
// writesがtrueなら、同じ保存先でserveが稼働中の場合は実行しない。
// 録画中のセッションを終了扱いにして書き換えてしまうため。
func withManager(writes bool, fn func(m *timelapse.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if writes {
		if pid, ok := pidfile.Running(pidfile.Path(cfg.Timelapse.RootDir)); ok {
			return fmt.Errorf("%w (PID %d)。serve を停止するか HTTP API を使用してください", pidfile.ErrRunning, pid)
		}
	}
	m, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(context.Background()) }()

	return fn(m)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "保存済みのセッションを新しい順に表示する",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(false, func(m *timelapse.Manager) error {
			sessions := m.ListSessions()
			if len(sessions) == 0 {
				fmt.Println("セッションがありません。serve を起動して録画を開始してください")
				return nil
			}

			now := time.Now()
			fmt.Printf("%-28s %-16s %-20s %-9s %6s %8s %s\n", "ID", "CAMERA", "STARTED", "STATUS", "FRAMES", "SECONDS", "EXPORTED")
			for _, s := range sessions {
				fmt.Printf("%-28s %-16s %-20s %-9s %6d %8d %s\n",
					s.SessionID,
					s.CameraName,
					s.StartedAt.Local().Format("2006-01-02 15:04:05"),
					s.Status,
					s.FrameCount,
					s.DurationSeconds(now),
					strings.Join(s.ExportedFormats, ","),
				)
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "セッションの詳細を表示する",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(false, func(m *timelapse.Manager) error {
			s, ok := m.GetSession(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", timelapse.ErrSessionNotFound, args[0])
			}

			fmt.Printf("Session:  %s\n", s.SessionID)
			fmt.Printf("Camera:   %d %s\n", s.CameraID, s.CameraName)
			fmt.Printf("Address:  %s\n", s.CameraAddress)
			fmt.Printf("URL:      %s\n", s.ImageURL)
			fmt.Printf("Interval: %ds\n", s.Interval)
			if s.DurationLimit != nil {
				fmt.Printf("Limit:    %ds\n", *s.DurationLimit)
			}
			fmt.Printf("Status:   %s\n", s.Status)
			fmt.Printf("Started:  %s\n", s.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if s.EndedAt != nil {
				fmt.Printf("Ended:    %s\n", s.EndedAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Duration: %ds\n", s.DurationSeconds(time.Now()))
			fmt.Printf("Frames:   %d\n", s.FrameCount)
			fmt.Printf("Exported: %s\n", strings.Join(s.ExportedFormats, ", "))
			fmt.Printf("Path:     %s\n", s.BasePath)
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>...",
	Short: "セッションをGIFまたは動画に書き出す",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOutput != "" && len(args) > 1 {
			return errors.New("--output は1件のみ指定時に使えます。複数件は --output-dir を指定してください")
		}

		return withManager(true, func(m *timelapse.Manager) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if len(args) == 1 && exportOutputDir == "" {
				path, err := m.ExportSession(ctx, args[0], exportFormat, exportOutput)
				if err != nil {
					return err
				}
				fmt.Printf("書き出しました: %s\n", path)
				return nil
			}

			paths, err := m.ExportMultiple(ctx, args, exportFormat, exportOutputDir)
			for _, path := range paths {
				fmt.Printf("書き出しました: %s\n", path)
			}
			return err
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "セッションと保存済みのフレームを削除する",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(true, func(m *timelapse.Manager) error {
			for _, id := range args {
				if _, ok := m.GetSession(id); !ok {
					fmt.Printf("セッションが見つかりません: %s\n", id)
					continue
				}
				if err := m.DeleteSession(id); err != nil {
					return err
				}
				fmt.Printf("削除しました: %s\n", id)
			}
			return nil
		})
	},
}
