package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/automerge/automerge-go"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftlist/internal/config"
	"github.com/driftsync/driftlist/pkg/viz"
)

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Render a room's change DAG to an SVG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		relayURL, _ := cmd.Flags().GetString("relay")
		if relayURL == "" {
			relayURL = cfg.RelayURL
		}
		out, _ := cmd.Flags().GetString("out")

		doc, err := fetchRoomDoc(relayURL, args[0])
		if err != nil {
			return err
		}

		changes, err := doc.Changes()
		if err != nil {
			return fmt.Errorf("failed to generate changes: %w", err)
		}
		for i, change := range changes {
			slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies())
		}

		if out == "" {
			out, err = viz.RenderToTemp(doc)
		} else {
			err = viz.RenderHistoryToSvg(doc, out)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, out)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("relay", "", "relay base URL (overrides DRIFTLIST_RELAY_URL)")
	historyCmd.Flags().String("out", "", "output SVG path; empty writes a temp file")
	rootCmd.AddCommand(historyCmd)
}

func fetchRoomDoc(relayURL, roomID string) (*automerge.Doc, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	resp, err := http.Get(u.JoinPath("rooms", roomID, "latest").String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch room: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read room: %w", err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load room doc: %w", err)
	}
	return doc, nil
}
