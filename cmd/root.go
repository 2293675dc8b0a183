package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Face recognition attendance for classrooms",
	Long: `Attendance records classroom attendance from photos and camera feeds.

Students are enrolled once from a reference photo. Group photos posted to the
server, or frames watched live from a classroom camera, are matched against
the enrolled section and every recognized student is marked present for the
day, subject and period.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
