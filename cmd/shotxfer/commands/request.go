package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/types"
)

var (
	peerID      string
	peerAddress string
	outPath     string
	timeout     time.Duration
)

func init() {
	requestCmd.Flags().StringVar(&peerID, "peer", "", "ID of the peer to capture")
	requestCmd.Flags().StringVar(&peerAddress, "peer-address", "", "address of the peer, informational")
	requestCmd.Flags().StringVarP(&outPath, "out", "o", "screenshot.png", "file to write the image to")
	requestCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the screenshot")
	requestCmd.MarkFlagRequired("peer")
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request one screenshot from a peer and write it to a file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		n, err := startNode(cfg, nil, nil, log)
		if err != nil {
			return err
		}
		defer n.stop()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		peer := types.NewPeerIdentity(peerID, peerAddress)
		payload, err := n.endpoint.Fetch(ctx, peer)
		if err != nil {
			return fmt.Errorf("request %s: %w", peer, err)
		}
		if payload == nil {
			return fmt.Errorf("peer %s produced no screenshot", peer)
		}

		// Payloads that are not data URLs are written verbatim
		data, mediaType := []byte(*payload), "raw payload"
		if mt, image, err := endpoint.DecodeDataURL(*payload); err == nil {
			data, mediaType = image, mt
		}

		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes) from %s\n", outPath, mediaType, len(data), peer)
		return nil
	},
}
