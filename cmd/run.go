package cmd

import (
	"log"

	"github.com/Psyphen36/Otahun/otahun"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Otahun bot and liveness API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := otahun.New(cfg)
		if err != nil {
			log.Fatalf("error creating otahun: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running otahun: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
