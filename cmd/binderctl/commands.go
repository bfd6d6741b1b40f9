package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func registerCommands(root *cobra.Command) {
	root.AddCommand(
		newCreateCommand(),
		newListCommand(),
		newShowCommand(),
		newAddCardCommand(),
		newRemoveCardCommand(),
		newUpdateCardCommand(),
		newMoveCommand(),
		newBatchMoveCommand(),
		newReorderPagesCommand(),
		newCompactCommand(),
		newSettingsCommand(),
		newMetadataCommand(),
		newShareCommand(),
		newClaimCommand(),
		newSelectCommand(),
		newDeleteCommand(),
		newSaveCommand(),
		newDownloadCommand(),
		newSyncCommand(),
		newPublicCommand(),
		newWatchCommand(),
	)
}

func newCreateCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a binder in the local snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			doc, err := app.coordinator.Create(ctx, args[0], description, app.userID())
			if err != nil {
				return err
			}
			if _, _, err := app.coordinator.SelectBinder(ctx, doc.ID, app.userID()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&description, "description", "", "Binder description")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the binders visible to the current session",
		Args:  cobra.NoArgs,
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			docs, err := app.coordinator.LoadBinders(ctx, app.userID())
			if err != nil {
				return err
			}
			writeBinderList(cmd.OutOrStdout(), docs, app.local.CurrentBinderID())
			return nil
		}),
	}
}

func newShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show [BINDER_ID]",
		Short: "Show a binder; defaults to the selected binder",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			doc, err := resolveBinder(app, args)
			if err != nil {
				return err
			}
			return writeBinder(cmd.OutOrStdout(), doc, format)
		}),
	}
	cmd.Flags().StringVar(&format, "format", outputFormatText, "Output format: text, json or yaml")
	return cmd
}

func newAddCardCommand() *cobra.Command {
	var (
		position int
		input    binders.CardInput
	)
	cmd := &cobra.Command{
		Use:   "add-card BINDER_ID CARD_ID",
		Short: "Place a card at a position or in the first empty slot",
		Args:  cobra.ExactArgs(2),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			input.Card.ID = args[1]
			var target *int
			if cmd.Flags().Changed("position") {
				target = &position
			}
			placed := 0
			_, err := mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				updated, at, err := editor.AddCard(doc, input, target, app.userID())
				placed = at
				return updated, err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "placed %s at %d\n", input.Card.ID, placed)
			return nil
		}),
	}
	cmd.Flags().IntVar(&position, "position", 0, "Target position (default: first empty slot)")
	cmd.Flags().StringVar(&input.Card.Name, "name", "", "Card name")
	cmd.Flags().StringVar(&input.Card.Rarity, "rarity", "", "Card rarity")
	cmd.Flags().StringVar(&input.Card.Number, "number", "", "Collector number")
	cmd.Flags().StringVar(&input.Card.Set.Name, "set", "", "Set name")
	cmd.Flags().StringVar(&input.Notes, "notes", "", "Notes")
	cmd.Flags().StringVar(&input.Condition, "condition", "", "Card condition")
	cmd.Flags().IntVar(&input.Quantity, "quantity", 1, "Quantity")
	cmd.Flags().BoolVar(&input.ReverseHolo, "reverse-holo", false, "Reverse holo printing")
	return cmd
}

func newRemoveCardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-card BINDER_ID POSITION",
		Short: "Empty a slot",
		Args:  cobra.ExactArgs(2),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			position, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			_, err = mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.RemoveCard(doc, position, app.userID())
			})
			return err
		}),
	}
}

func newUpdateCardCommand() *cobra.Command {
	var (
		notes, condition string
		quantity         int
		protected        bool
		reverseHolo      bool
	)
	cmd := &cobra.Command{
		Use:   "update-card BINDER_ID POSITION",
		Short: "Edit the card instance at a position",
		Args:  cobra.ExactArgs(2),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			position, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			patch := binders.CardPatch{}
			flags := cmd.Flags()
			if flags.Changed("notes") {
				patch.Notes = &notes
			}
			if flags.Changed("condition") {
				patch.Condition = &condition
			}
			if flags.Changed("quantity") {
				patch.Quantity = &quantity
			}
			if flags.Changed("protected") {
				patch.IsProtected = &protected
			}
			if flags.Changed("reverse-holo") {
				patch.ReverseHolo = &reverseHolo
			}
			_, err = mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.UpdateCard(doc, position, patch, app.userID())
			})
			return err
		}),
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Notes")
	cmd.Flags().StringVar(&condition, "condition", "", "Card condition")
	cmd.Flags().IntVar(&quantity, "quantity", 1, "Quantity")
	cmd.Flags().BoolVar(&protected, "protected", false, "Protect the card from removal")
	cmd.Flags().BoolVar(&reverseHolo, "reverse-holo", false, "Reverse holo printing")
	return cmd
}

func newMoveCommand() *cobra.Command {
	var (
		mode       string
		optimistic bool
	)
	cmd := &cobra.Command{
		Use:   "move BINDER_ID FROM TO",
		Short: "Move a card by swapping or shifting",
		Args:  cobra.ExactArgs(3),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			from, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			to, err := parsePosition(args[2])
			if err != nil {
				return err
			}
			moveMode, err := parseMoveMode(mode)
			if err != nil {
				return err
			}
			_, err = mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				if !optimistic {
					return editor.Move(doc, binders.MoveRequest{From: from, To: to, Mode: moveMode}, app.userID())
				}
				provisional, token, err := editor.BeginMove(doc, from, to, moveMode, app.userID())
				if err != nil {
					return nil, err
				}
				return editor.CommitMove(provisional, token, app.userID())
			})
			return err
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", string(binders.MoveModeSwap), "Move mode: swap or shift")
	cmd.Flags().BoolVar(&optimistic, "optimistic", false, "Apply as a provisional move and confirm it")
	return cmd
}

func newBatchMoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch-move BINDER_ID FROM:TO...",
		Short: "Apply several swaps in order; failing pairs are reported and skipped",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			pairs := make([]binders.MovePair, 0, len(args)-1)
			for _, raw := range args[1:] {
				pair, err := parseMovePair(raw)
				if err != nil {
					return err
				}
				pairs = append(pairs, pair)
			}
			var result binders.BatchResult
			_, err := mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				updated, batch := editor.BatchMove(doc, pairs, app.userID())
				result = batch
				return updated, nil
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied %d of %d moves\n", result.Applied, len(pairs))
			for _, failure := range result.Failed {
				fmt.Fprintf(out, "  #%d %d:%d failed: %v\n", failure.Index, failure.Pair.From, failure.Pair.To, failure.Err)
			}
			return nil
		}),
	}
}

func newReorderPagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder-pages BINDER_ID FROM_CARD_PAGE TO_CARD_PAGE",
		Short: "Exchange the contents of two card-pages",
		Args:  cobra.ExactArgs(3),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			from, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			to, err := parsePosition(args[2])
			if err != nil {
				return err
			}
			_, err = mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.ReorderCardPages(doc, from, to, app.userID())
			})
			return err
		}),
	}
}

func newCompactCommand() *cobra.Command {
	var pages []int
	cmd := &cobra.Command{
		Use:   "compact BINDER_ID",
		Short: "Close gaps across the binder or inside the given card-pages",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			scope := binders.CompactScopeBinder
			if len(pages) > 0 {
				scope = binders.CompactScopePage
			}
			_, err := mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.Compact(doc, scope, pages, app.userID())
			})
			return err
		}),
	}
	cmd.Flags().IntSliceVar(&pages, "page", nil, "Card-page to compact (repeatable)")
	return cmd
}

func newSettingsCommand() *cobra.Command {
	var (
		gridSize                     string
		pageCount, minPages, maxPage int
		sortMode                     string
		autoSort                     bool
	)
	cmd := &cobra.Command{
		Use:   "settings BINDER_ID",
		Short: "Change grid size, page bounds or sorting",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			patch := binders.SettingsPatch{}
			flags := cmd.Flags()
			if flags.Changed("grid") {
				size, err := grid.ParseSize(gridSize)
				if err != nil {
					return err
				}
				patch.GridSize = &size
			}
			if flags.Changed("pages") {
				patch.PageCount = &pageCount
			}
			if flags.Changed("min-pages") {
				patch.MinPages = &minPages
			}
			if flags.Changed("max-pages") {
				patch.MaxPages = &maxPage
			}
			if flags.Changed("sort") {
				mode := binders.SortMode(sortMode)
				patch.SortMode = &mode
			}
			if flags.Changed("auto-sort") {
				patch.AutoSort = &autoSort
			}
			doc, err := mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.UpdateSettings(doc, patch, app.userID())
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grid %s, %d pages (min %d, max %d)\n",
				doc.Settings.GridSize, doc.Settings.PageCount, doc.Settings.MinPages, doc.Settings.MaxPages)
			return nil
		}),
	}
	cmd.Flags().StringVar(&gridSize, "grid", "", "Grid size: 1x1, 2x2, 3x3, 4x3 or 4x4")
	cmd.Flags().IntVar(&pageCount, "pages", 0, "Binder page count")
	cmd.Flags().IntVar(&minPages, "min-pages", 0, "Minimum binder pages")
	cmd.Flags().IntVar(&maxPage, "max-pages", 0, "Maximum binder pages")
	cmd.Flags().StringVar(&sortMode, "sort", "", "Sort mode")
	cmd.Flags().BoolVar(&autoSort, "auto-sort", false, "Sort automatically")
	return cmd
}

func newMetadataCommand() *cobra.Command {
	var (
		name, description string
		tags              []string
		archived          bool
	)
	cmd := &cobra.Command{
		Use:   "metadata BINDER_ID",
		Short: "Rename, describe, tag or archive a binder",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			patch := binders.MetadataPatch{}
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("tag") {
				patch.Tags = tags
			}
			if flags.Changed("archived") {
				patch.IsArchived = &archived
			}
			_, err := mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.UpdateMetadata(doc, patch, app.userID())
			})
			return err
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Binder name")
	cmd.Flags().StringVar(&description, "description", "", "Binder description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable; replaces existing tags)")
	cmd.Flags().BoolVar(&archived, "archived", false, "Archive the binder")
	return cmd
}

func newShareCommand() *cobra.Command {
	var (
		public        bool
		collaborators []string
		regenerate    bool
	)
	cmd := &cobra.Command{
		Use:   "share BINDER_ID",
		Short: "Change binder visibility and collaborators",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			patch := binders.PermissionsPatch{RegenerateShareCode: regenerate}
			if cmd.Flags().Changed("public") {
				patch.Public = &public
			}
			if cmd.Flags().Changed("collaborator") {
				patch.Collaborators = collaborators
			}
			doc, err := mutate(ctx, app, args[0], func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
				return editor.UpdatePermissions(doc, patch, app.userID())
			})
			if err != nil {
				return err
			}
			if doc.Permissions.ShareCode != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "share code %s\n", doc.Permissions.ShareCode)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&public, "public", false, "Publish the binder")
	cmd.Flags().StringSliceVar(&collaborators, "collaborator", nil, "Collaborator user id (repeatable)")
	cmd.Flags().BoolVar(&regenerate, "regenerate-code", false, "Issue a new share code")
	return cmd
}

func newClaimCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim BINDER_ID",
		Short: "Assign a guest binder to the signed-in user",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			if app.userID() == "" {
				return errors.New("a signed-in user is required; pass --user")
			}
			doc, err := app.coordinator.Claim(ctx, args[0], app.userID())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now belongs to %s\n", doc.ID, doc.OwnerID)
			return nil
		}),
	}
}

func newSelectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select BINDER_ID",
		Short: "Make a binder the current binder",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			_, selected, err := app.coordinator.SelectBinder(ctx, args[0], app.userID())
			if err != nil {
				return err
			}
			if !selected {
				return fmt.Errorf("binder %s is not available to this session", args[0])
			}
			return nil
		}),
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete BINDER_ID",
		Short: "Delete a binder locally and, if it was ever synced, remotely",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			deleted, err := app.coordinator.Delete(ctx, args[0], app.userID())
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("binder %s is not available to this session", args[0])
			}
			return nil
		}),
	}
}

func newSaveCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "save BINDER_ID",
		Short: "Push a binder to the binder API",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			if err := app.requireOnline(); err != nil {
				return err
			}
			doc, err := app.coordinator.Save(ctx, args[0], app.userID(), syncer.SaveOptions{ForceOverwrite: force})
			var conflictErr *syncer.ConflictError
			if errors.As(err, &conflictErr) {
				return fmt.Errorf("%w; run download to take the remote copy or save --force to overwrite it", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s at version %d\n", doc.ID, doc.Version)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite a newer remote copy")
	return cmd
}

func newDownloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download BINDER_ID",
		Short: "Replace the local copy with the remote copy",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			if err := app.requireOnline(); err != nil {
				return err
			}
			doc, err := app.coordinator.Download(ctx, args[0], app.userID())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s at version %d\n", doc.ID, doc.Version)
			return nil
		}),
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile every binder of the signed-in user",
		Args:  cobra.NoArgs,
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			if err := app.requireOnline(); err != nil {
				return err
			}
			result, err := app.coordinator.ReconcileAll(ctx, app.userID())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d binders: %d added, %d updated, %d removed, %d skipped\n",
				len(result.Binders), result.Added, result.Updated, result.Removed, result.Skipped)
			return nil
		}),
	}
}

func newPublicCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "public OWNER_ID",
		Short: "List the public binders of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			docs, err := app.coordinator.ListPublic(ctx, args[0])
			if err != nil {
				return err
			}
			writeBinderList(cmd.OutOrStdout(), docs, "")
			return nil
		}),
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reconcile in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApplication(func(ctx context.Context, app *application, cmd *cobra.Command, args []string) error {
			if err := app.requireOnline(); err != nil {
				return err
			}
			return runWatch(ctx, app)
		}),
	}
}

func mutate(ctx context.Context, app *application, binderID string, fn syncer.MutateFunc) (*binders.Document, error) {
	doc, applied, err := app.coordinator.Mutate(ctx, binderID, app.userID(), fn)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("binder %s is not available to this session", binderID)
	}
	app.logger.Debug("binder updated", zap.String("binder_id", binderID), zap.Int64("version", doc.Version))
	return doc, nil
}

func resolveBinder(app *application, args []string) (*binders.Document, error) {
	if len(args) == 1 {
		doc, err := app.local.Binder(args[0])
		if err != nil {
			return nil, err
		}
		if !doc.VisibleTo(app.userID()) {
			return nil, fmt.Errorf("binder %s is not available to this session", args[0])
		}
		return doc, nil
	}
	doc, ok := app.coordinator.CurrentBinder(app.userID())
	if !ok {
		return nil, errors.New("no binder selected")
	}
	return doc, nil
}

func parsePosition(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return value, nil
}

func parseMovePair(raw string) (binders.MovePair, error) {
	from, to, found := strings.Cut(raw, ":")
	if !found {
		return binders.MovePair{}, fmt.Errorf("invalid move %q, expected FROM:TO", raw)
	}
	fromPosition, err := parsePosition(from)
	if err != nil {
		return binders.MovePair{}, err
	}
	toPosition, err := parsePosition(to)
	if err != nil {
		return binders.MovePair{}, err
	}
	return binders.MovePair{From: fromPosition, To: toPosition}, nil
}

func parseMoveMode(raw string) (binders.MoveMode, error) {
	switch binders.MoveMode(strings.ToLower(strings.TrimSpace(raw))) {
	case binders.MoveModeSwap, "":
		return binders.MoveModeSwap, nil
	case binders.MoveModeShift:
		return binders.MoveModeShift, nil
	default:
		return "", fmt.Errorf("unknown move mode %q", raw)
	}
}
