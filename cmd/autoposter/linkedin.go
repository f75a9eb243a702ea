package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/linkedin"
)

// linkedinCmd groups manual operations against the publishing account.
func linkedinCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkedin",
		Short: "Manage the publishing account directly",
	}
	client := func() (*linkedin.Client, error) {
		cfg, err := config.LoadConfig(*cfgPath)
		if err != nil {
			return nil, err
		}
		c := linkedin.NewClient(cfg.LinkedIn)
		if !c.HasCredentials() {
			return nil, linkedin.ErrNoToken
		}
		return c, nil
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			p, err := c.UserInfo(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}

	del := &cobra.Command{
		Use:   "delete <post-urn>",
		Short: "Delete a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.DeletePost(cmd.Context(), args[0])
		},
	}

	var reaction string
	react := &cobra.Command{
		Use:   "react <post-urn>",
		Short: "Like or react to a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			if strings.EqualFold(reaction, "LIKE") {
				return c.LikePost(cmd.Context(), args[0])
			}
			return c.React(cmd.Context(), args[0], reaction)
		},
	}
	react.Flags().StringVar(&reaction, "type", "LIKE", "reaction: "+strings.Join(linkedin.Reactions, ", "))

	comment := &cobra.Command{
		Use:   "comment <post-urn> <text>",
		Short: "Comment on a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			id, err := c.CommentOnPost(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	var text, title, visibility string
	video := &cobra.Command{
		Use:   "video <file>",
		Short: "Publish a video post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ct := mime.TypeByExtension(filepath.Ext(args[0]))
			if ct == "" {
				ct = "video/mp4"
			}
			urn, err := c.CreateVideoPost(cmd.Context(), linkedin.MediaPost{
				Text:        text,
				Data:        data,
				ContentType: ct,
				Title:       title,
				Visibility:  linkedin.Visibility(strings.ToUpper(visibility)),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), urn)
			return err
		},
	}
	video.Flags().StringVar(&text, "text", "", "post commentary")
	video.Flags().StringVar(&title, "title", "", "media title")
	video.Flags().StringVar(&visibility, "visibility", string(linkedin.VisibilityPublic), "PUBLIC or CONNECTIONS")

	cmd.AddCommand(whoami, del, react, comment, video)
	return cmd
}
