package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/snapcheck/internal/app"
	"github.com/efebarandurmaz/snapcheck/internal/config"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
)

func newSnapshotsCmd(configPath *string) *cobra.Command {
	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect and delete snapshots held by the service",
	}

	var collectionName string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the snapshots of a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := loadClients(cmd, *configPath)
			if err != nil {
				return err
			}
			defer clients.Close()

			descs, err := clients.Snapshots.List(cmd.Context(), collectionName)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCREATED\tSIZE\tCHECKSUM")
			for _, d := range descs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Name, d.CreationTime, d.Size, d.Checksum)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().StringVar(&collectionName, "collection", "", "Collection name")
	_ = listCmd.MarkFlagRequired("collection")

	var deleteCollection, snapshotName string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := loadClients(cmd, *configPath)
			if err != nil {
				return err
			}
			defer clients.Close()

			desc := &snapshot.Descriptor{Name: snapshotName, Collection: deleteCollection}
			if err := clients.Snapshots.Delete(cmd.Context(), desc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", deleteCollection, snapshotName)
			return nil
		},
	}
	deleteCmd.Flags().StringVar(&deleteCollection, "collection", "", "Collection name")
	deleteCmd.Flags().StringVar(&snapshotName, "name", "", "Snapshot name")
	_ = deleteCmd.MarkFlagRequired("collection")
	_ = deleteCmd.MarkFlagRequired("name")

	var archiveDir string
	archivedCmd := &cobra.Command{
		Use:   "archived",
		Short: "List snapshots kept in the local archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			dir := cfg.Archive.Dir
			if cmd.Flags().Changed("dir") {
				dir = archiveDir
			}
			if dir == "" {
				return fmt.Errorf("no archive configured; set archive.dir or --dir")
			}
			store, err := snapshot.NewStore(dir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ARCHIVED\tCOLLECTION\tNAME\tRUN\tSIZE\tHASH")
			for _, e := range store.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					e.ArchivedAt.Format(time.RFC3339), e.Collection, e.Name, e.RunID, e.Size, e.ContentHash[:12])
			}
			return tw.Flush()
		},
	}
	archivedCmd.Flags().StringVar(&archiveDir, "dir", "", "Archive directory (default: archive.dir)")

	snapshotsCmd.AddCommand(listCmd, deleteCmd, archivedCmd)
	return snapshotsCmd
}

func loadClients(cmd *cobra.Command, configPath string) (*app.Clients, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return app.NewClients(cfg, logger)
}
