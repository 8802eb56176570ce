package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kanban/api/internal/search"
	"kanban/api/internal/store"
)

const adminActor = "admin-cli"

var (
	boardFilter string
	dryRun      bool
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Check and fix list and task ordering",
}

var positionsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report boards whose positions are not dense",
	Long: `Walks every board (or the one named by --board) and reports each list
or board whose positions are not exactly 0..n-1. Exits non-zero when any
issue is found.`,
	Args: cobra.NoArgs,
	RunE: runPositionsVerify,
}

var positionsRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Renumber positions that are not dense",
	Args:  cobra.NoArgs,
	RunE:  runPositionsRepair,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the Meilisearch index from Postgres",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

var purgeTokensCmd = &cobra.Command{
	Use:   "purge-tokens",
	Short: "Delete expired refresh sessions, revocations and reset tokens",
	Args:  cobra.NoArgs,
	RunE:  runPurgeTokens,
}

func init() {
	positionsCmd.PersistentFlags().StringVar(&boardFilter, "board", "", "Only check this board ID")
	positionsRepairCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be repaired without writing")
	positionsCmd.AddCommand(positionsVerifyCmd, positionsRepairCmd)
}

// positionChecker is the slice of the store the positions commands use.
type positionChecker interface {
	ListBoardIDs(ctx context.Context) ([]string, error)
	VerifyBoard(ctx context.Context, boardID string) ([]store.DensityIssue, error)
	RepairBoard(ctx context.Context, boardID, actorID string) (int, error)
}

func targetBoards(ctx context.Context, s positionChecker) ([]string, error) {
	if boardFilter != "" {
		return []string{boardFilter}, nil
	}
	return s.ListBoardIDs(ctx)
}

func runPositionsVerify(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	issues, err := verifyBoards(cmd, e.store)
	if err != nil {
		return err
	}
	if issues > 0 {
		return fmt.Errorf("%d position issue(s) found", issues)
	}
	return nil
}

func verifyBoards(cmd *cobra.Command, s positionChecker) (int, error) {
	ids, err := targetBoards(cmd.Context(), s)
	if err != nil {
		return 0, err
	}
	out := cmd.OutOrStdout()
	total := 0
	for _, id := range ids {
		issues, err := s.VerifyBoard(cmd.Context(), id)
		if err != nil {
			return total, fmt.Errorf("verify board %s: %w", id, err)
		}
		for _, issue := range issues {
			fmt.Fprintf(out, "%s\t%s %s: %s\n", issue.BoardID, issue.Kind, issue.Parent, issue.Err)
		}
		total += len(issues)
	}
	fmt.Fprintf(out, "checked %d board(s), %d issue(s)\n", len(ids), total)
	return total, nil
}

func runPositionsRepair(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	if dryRun {
		_, err := verifyBoards(cmd, e.store)
		return err
	}
	repaired, err := repairBoards(cmd, e.store)
	if err != nil {
		return err
	}
	e.logger.Info("positions repaired", zap.Int("parents", repaired))
	return nil
}

func repairBoards(cmd *cobra.Command, s positionChecker) (int, error) {
	ids, err := targetBoards(cmd.Context(), s)
	if err != nil {
		return 0, err
	}
	out := cmd.OutOrStdout()
	total := 0
	for _, id := range ids {
		n, err := s.RepairBoard(cmd.Context(), id, adminActor)
		if err != nil {
			return total, fmt.Errorf("repair board %s: %w", id, err)
		}
		if n > 0 {
			fmt.Fprintf(out, "%s\trenumbered %d parent(s)\n", id, n)
		}
		total += n
	}
	fmt.Fprintf(out, "repaired %d parent(s) across %d board(s)\n", total, len(ids))
	return total, nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.MeiliURL == "" {
		return fmt.Errorf("MEILI_URL is not set, nothing to reindex")
	}
	meili := search.NewMeili(e.cfg.MeiliURL, e.cfg.MeiliMasterKey, e.logger)
	defer meili.Close()
	pg := search.NewPgFTS(e.db)
	svc := search.NewService(meili, pg, e.logger)
	defer svc.Close()

	n, err := svc.ReindexAllFromPG(cmd.Context(), pg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d document(s)\n", n)
	return nil
}

func runPurgeTokens(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.store.PurgeExpiredTokens(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired row(s)\n", n)
	return nil
}
