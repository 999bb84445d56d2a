package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paccer/internal/diag"
	"paccer/internal/driver"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dir",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Dir())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove every cached result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd)
			if err != nil {
				return err
			}
			if err := c.DropAll(); err != nil {
				return diag.Wrap(diag.IOWrite, "cache", c.Dir(), err)
			}
			return nil
		},
	})
	return cmd
}

func openCache(cmd *cobra.Command) (*driver.DiskCache, error) {
	configPath, _ := cmd.Flags().GetString("config")
	lc, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	dir, _ := cmd.Flags().GetString("cache-dir")
	dir = setting(cmd, "cache-dir", dir, lc.Config.Output.CacheDir)
	var c *driver.DiskCache
	if dir != "" {
		c, err = driver.NewDiskCache(dir)
	} else {
		c, err = driver.OpenDiskCache("paccer")
	}
	if err != nil {
		return nil, diag.Wrap(diag.IOInfo, "cache", dir, err)
	}
	return c, nil
}
