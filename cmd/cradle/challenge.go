package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cradlehq/cradle/pkg/client"
	"github.com/cradlehq/cradle/pkg/types"
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Manage challenge definitions",
}

// challengeFile is the on-disk format for challenge apply
type challengeFile struct {
	Challenges []types.Challenge `yaml:"challenges"`
}

var challengeApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply challenge definitions from a YAML file",
	Long: `Apply challenge definitions from a YAML file.

Example file:

  challenges:
    - id: web-pwn-01
      name: Baby Web
      image: ctf/baby-web:latest
      port: 8000
      connection_info: challenges.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var file challengeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
		if len(file.Challenges) == 0 {
			return fmt.Errorf("no challenges found in %s", filename)
		}

		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)
		if err := c.ApplyChallenges(cmd.Context(), file.Challenges); err != nil {
			return err
		}

		fmt.Printf("Applied %d challenge(s)\n", len(file.Challenges))
		return nil
	},
}

var challengeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenge definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		challenges, err := c.ListChallenges(cmd.Context())
		if err != nil {
			return err
		}

		if len(challenges) == 0 {
			fmt.Println("No challenges defined")
			return nil
		}
		fmt.Printf("%-20s %-30s %-40s %s\n", "ID", "NAME", "IMAGE", "PORT")
		for _, ch := range challenges {
			fmt.Printf("%-20s %-30s %-40s %d\n", ch.ID, ch.Name, ch.Image, ch.Port)
		}
		return nil
	},
}

var challengeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a challenge definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		if err := c.DeleteChallenge(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted challenge %s\n", args[0])
		return nil
	},
}

func init() {
	challengeApplyCmd.Flags().StringP("file", "f", "", "YAML file with challenge definitions (required)")
	_ = challengeApplyCmd.MarkFlagRequired("file")

	challengeCmd.AddCommand(challengeApplyCmd)
	challengeCmd.AddCommand(challengeListCmd)
	challengeCmd.AddCommand(challengeDeleteCmd)
	rootCmd.AddCommand(challengeCmd)
}
