package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cradlehq/cradle/pkg/client"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage running instances",
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		connected, instances, err := c.Dashboard(cmd.Context())
		if err != nil {
			return err
		}

		if !connected {
			fmt.Println("WARNING: container engine unreachable")
		}
		if len(instances) == 0 {
			fmt.Println("No instances running")
			return nil
		}
		fmt.Printf("%-14s %-20s %-16s %-7s %-8s %s\n",
			"CONTAINER", "CHALLENGE", "OWNER", "PORT", "RUNNING", "EXPIRES")
		for _, inst := range instances {
			id := inst.ContainerID
			if len(id) > 12 {
				id = id[:12]
			}
			fmt.Printf("%-14s %-20s %-16s %-7d %-8t %s\n",
				id, inst.ChallengeID, inst.Owner.Key(), inst.Port, inst.Running,
				time.Unix(inst.ExpiresAt, 0).Format(time.RFC3339))
		}
		return nil
	},
}

var instanceKillCmd = &cobra.Command{
	Use:   "kill CONTAINER_ID",
	Short: "Destroy an instance regardless of owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		if err := c.Kill(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Killed %s\n", args[0])
		return nil
	},
}

var instancePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Destroy every tracked instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		report, err := c.Purge(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Destroyed %d instance(s)\n", len(report.Destroyed))
		for _, f := range report.Failures {
			fmt.Printf("  failed: %s: %s\n", f.ContainerID, f.Error)
		}
		return nil
	},
}

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images on the container engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		images, err := c.Images(cmd.Context())
		if err != nil {
			return err
		}
		for _, img := range images {
			fmt.Println(img)
		}
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update runtime settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, token := adminClientFlags(cmd)
		c := client.NewClient(server, token)

		sets, _ := cmd.Flags().GetStringSlice("set")
		if len(sets) == 0 {
			values, err := c.Settings(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, values[k])
			}
			return nil
		}

		// Merge --set pairs over the current document; the update endpoint
		// validates the full set.
		values, err := c.Settings(cmd.Context())
		if err != nil {
			return err
		}
		for _, pair := range sets {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --set value %q, want key=value", pair)
			}
			values[k] = v
		}
		if err := c.UpdateSettings(cmd.Context(), values); err != nil {
			return err
		}
		fmt.Println("Settings updated")
		return nil
	},
}

func init() {
	settingsCmd.Flags().StringSlice("set", nil, "key=value pair to update (repeatable)")

	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceKillCmd)
	instanceCmd.AddCommand(instancePurgeCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(settingsCmd)
}
