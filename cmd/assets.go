package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/querysmith/querysmith/internal/asset"
)

const timeRounding = time.Millisecond

var (
	assetType    string
	assetKey     string
	assetName    string
	assetContent string
	assetFile    string
	assetAuthor  string
	assetTags    []string
	assetVersion string
	assetState   string
	changeNote   string
	promotedBy   string
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Manage context assets (term definitions, table descriptions, skills)",
}

var assetsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft asset",
	RunE:  runAssetsCreate,
}

var assetsPromoteCmd = &cobra.Command{
	Use:   "promote [asset-id]",
	Short: "Promote an asset to the next lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsPromote,
}

var assetsDeprecateCmd = &cobra.Command{
	Use:   "deprecate [asset-id]",
	Short: "Deprecate an asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsDeprecate,
}

var assetsReviseCmd = &cobra.Command{
	Use:   "revise [asset-id]",
	Short: "Create a new draft version of an existing asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsRevise,
}

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets for the connection",
	RunE:  runAssetsList,
}

var assetsShowCmd = &cobra.Command{
	Use:   "show [type] [key]",
	Short: "Show an asset (latest version by default)",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssetsShow,
}

var assetsSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search assets by meaning and keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAssetsSearch,
}

var assetsDeleteCmd = &cobra.Command{
	Use:   "delete [asset-id]",
	Short: "Delete a draft asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsDelete,
}

func init() {
	assetsCreateCmd.Flags().StringVar(&assetType, "type", "", "asset type (table_description, glossary, instruction, skill)")
	assetsCreateCmd.Flags().StringVar(&assetKey, "key", "", "canonical key, e.g. term:active_user")
	assetsCreateCmd.Flags().StringVar(&assetName, "name", "", "display name")
	assetsCreateCmd.Flags().StringVar(&assetContent, "content", "", "content text")
	assetsCreateCmd.Flags().StringVar(&assetFile, "file", "", "read content text from file")
	assetsCreateCmd.Flags().StringVar(&assetAuthor, "author", "", "author")
	assetsCreateCmd.Flags().StringSliceVar(&assetTags, "tag", nil, "tag (repeatable)")
	_ = assetsCreateCmd.MarkFlagRequired("type")
	_ = assetsCreateCmd.MarkFlagRequired("key")
	_ = assetsCreateCmd.MarkFlagRequired("name")

	assetsPromoteCmd.Flags().StringVar(&assetState, "to", "", "target state (verified, published)")
	assetsPromoteCmd.Flags().StringVar(&promotedBy, "by", "", "who is promoting")
	assetsPromoteCmd.Flags().StringVar(&changeNote, "note", "", "change note")
	_ = assetsPromoteCmd.MarkFlagRequired("to")

	assetsDeprecateCmd.Flags().StringVar(&promotedBy, "by", "", "who is deprecating")
	assetsDeprecateCmd.Flags().StringVar(&changeNote, "note", "", "reason")

	assetsReviseCmd.Flags().StringVar(&assetContent, "content", "", "new content text")
	assetsReviseCmd.Flags().StringVar(&assetFile, "file", "", "read new content text from file")
	assetsReviseCmd.Flags().StringVar(&assetAuthor, "author", "", "revision author")

	assetsListCmd.Flags().StringVar(&assetType, "type", "", "filter by asset type")
	assetsListCmd.Flags().StringVar(&assetState, "state", "", "filter by lifecycle state")

	assetsSearchCmd.Flags().StringVar(&assetType, "type", "", "restrict to one asset type")

	assetsShowCmd.Flags().StringVar(&assetVersion, "version", asset.VersionLatest, "version number or \"latest\"")

	assetsCmd.AddCommand(assetsCreateCmd, assetsPromoteCmd, assetsDeprecateCmd,
		assetsReviseCmd, assetsListCmd, assetsShowCmd, assetsSearchCmd, assetsDeleteCmd)
	rootCmd.AddCommand(assetsCmd)
}

func contentText() (string, error) {
	if assetFile != "" {
		data, err := os.ReadFile(assetFile)
		if err != nil {
			return "", fmt.Errorf("read content file: %w", err)
		}
		return string(data), nil
	}
	if assetContent == "" {
		return "", fmt.Errorf("either --content or --file is required")
	}
	return assetContent, nil
}

func runAssetsCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	text, err := contentText()
	if err != nil {
		return err
	}

	created, err := a.Assets.Create(ctx, asset.CreateParams{
		ConnectionID: connectionID,
		Type:         asset.Type(assetType),
		CanonicalKey: assetKey,
		Name:         assetName,
		ContentText:  text,
		Author:       assetAuthor,
		Tags:         assetTags,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created draft %s version %d (%s)\n",
		created.CanonicalKey, created.Version, created.ID)
	return nil
}

func runAssetsPromote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid asset ID: %w", err)
	}

	promoted, err := a.Assets.Promote(ctx, id, asset.State(assetState), promotedBy, changeNote)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s version %d to %s\n",
		promoted.CanonicalKey, promoted.Version, promoted.State)
	return nil
}

func runAssetsDeprecate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid asset ID: %w", err)
	}

	deprecated, err := a.Assets.Deprecate(ctx, id, promotedBy, changeNote)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deprecated %s version %d\n",
		deprecated.CanonicalKey, deprecated.Version)
	return nil
}

func runAssetsRevise(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid asset ID: %w", err)
	}

	revision, err := a.Assets.Revise(ctx, id, assetAuthor)
	if err != nil {
		return err
	}

	// A revision starts as a copy; apply the new content when given.
	if assetContent != "" || assetFile != "" {
		text, err := contentText()
		if err != nil {
			return err
		}
		revision, err = a.Assets.Update(ctx, revision.ID, asset.UpdateParams{ContentText: &text})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created draft %s version %d (%s)\n",
		revision.CanonicalKey, revision.Version, revision.ID)
	return nil
}

func runAssetsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	assets, err := a.Assets.List(ctx, connectionID, asset.Type(assetType))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	shown := 0
	for _, item := range assets {
		if assetState != "" && item.State != asset.State(assetState) {
			continue
		}
		fmt.Fprintf(out, "%s\t%s\tv%d\t%s\t%s\t%s\n",
			item.ID, item.Type, item.Version, item.State, item.CanonicalKey, item.Name)
		shown++
	}
	fmt.Fprintf(out, "%d assets\n", shown)
	return nil
}

func runAssetsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	item, err := a.Assets.Get(ctx, connectionID, asset.Type(args[0]), args[1], assetVersion)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:      %s\n", item.ID)
	fmt.Fprintf(out, "Key:     %s\n", item.CanonicalKey)
	fmt.Fprintf(out, "Name:    %s\n", item.Name)
	fmt.Fprintf(out, "Version: %d\n", item.Version)
	fmt.Fprintf(out, "State:   %s\n", item.State)
	if item.ChangeNote != "" {
		fmt.Fprintf(out, "Note:    %s\n", item.ChangeNote)
	}
	fmt.Fprintf(out, "\n%s\n", item.ContentText)
	return nil
}

func runAssetsSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	matches, err := a.Assets.Search(ctx, connectionID, strings.Join(args, " "), asset.Type(assetType))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range matches {
		fmt.Fprintf(out, "%.3f\t%s\t%s\tv%d\t%s\t%s\n",
			m.Score, m.MatchType, m.Asset.Type, m.Asset.Version, m.Asset.State, m.Asset.Name)
	}
	fmt.Fprintf(out, "%d matches\n", len(matches))
	return nil
}

func runAssetsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid asset ID: %w", err)
	}

	if err := a.Assets.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
	return nil
}
