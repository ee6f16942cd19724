package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(camerasCmd)
}

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "カメラ一覧を表示する",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		directory, err := cfg.OpenDirectory()
		if err != nil {
			return err
		}

		cameras := directory.List()
		if len(cameras) == 0 {
			fmt.Println("カメラが登録されていません")
			return nil
		}

		fmt.Printf("%-6s %-20s %-24s %s\n", "ID", "NAME", "ADDRESS", "IMAGE URL")
		for _, cam := range cameras {
			fmt.Printf("%-6d %-20s %-24s %s\n", cam.ID, cam.Name, cam.Address, cam.ImageURL)
		}
		return nil
	},
}
