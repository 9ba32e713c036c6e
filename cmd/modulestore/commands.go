package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/splitstore/internal/app"
	"github.com/yungbote/splitstore/internal/domain/keys"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/platform/ctxutil"
)

var (
	rootCmd = &cobra.Command{
		Use:           "modulestore",
		Short:         "Versioned course modulestore",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the document tables and indexes",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only course inspector",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	courseCmd = &cobra.Command{
		Use:   "course",
		Short: "Course administration",
	}
	courseCreateCmd = &cobra.Command{
		Use:   "create [org] [course] [run]",
		Short: "Create a course with an empty draft branch",
		Args:  cobra.ExactArgs(3),
		RunE:  runCourseCreate,
	}
	coursePublishCmd = &cobra.Command{
		Use:   "publish [course-key]",
		Short: "Publish the draft branch of a course",
		Args:  cobra.ExactArgs(1),
		RunE:  runCoursePublish,
	}
	courseHistoryCmd = &cobra.Command{
		Use:   "history [course-key]",
		Short: "Print the structure lineage of a course branch",
		Args:  cobra.ExactArgs(1),
		RunE:  runCourseHistory,
	}
	courseDeleteCmd = &cobra.Command{
		Use:   "delete [course-key]",
		Short: "Delete a course index; structures stay for history",
		Args:  cobra.ExactArgs(1),
		RunE:  runCourseDelete,
	}

	userID      string
	branchName  string
	displayName string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&userID, "user", "cli", "User id recorded as the editor")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(courseCmd)
	courseCmd.PersistentFlags().StringVar(&branchName, "branch", keys.DraftBranch, "Branch used when the key names none")
	courseCmd.AddCommand(courseCreateCmd)
	courseCreateCmd.Flags().StringVar(&displayName, "display-name", "", "Display name of the course root")
	courseCmd.AddCommand(coursePublishCmd)
	courseCmd.AddCommand(courseHistoryCmd)
	courseCmd.AddCommand(courseDeleteCmd)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = ctxutil.WithRequest(ctx, ctxutil.Request{RequestID: uuid.NewString(), Origin: ctxutil.OriginCLI})
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func courseArg(raw string) (keys.CourseKey, error) {
	ck, err := keys.ParseCourseKey(raw)
	if err != nil {
		return keys.CourseKey{}, err
	}
	if ck.Branch == "" && ck.Version.IsZero() {
		ck = ck.ForBranch(branchName)
	}
	return ck, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	// app.New migrates on startup.
	return withApp(cmd, func(_ context.Context, a *app.App) error {
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", a.DB.Driver())
		return nil
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}

func runCourseCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		opts := split.CourseOptions{Branch: branchName}
		if displayName != "" {
			opts.Fields = map[string]any{"display_name": displayName}
		}
		root, err := a.Store.CreateCourse(ctx, userID, args[0], args[1], args[2], opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", root.Location().Course.ForBranch(branchName), root.StructureVersion())
		return nil
	})
}

func runCoursePublish(cmd *cobra.Command, args []string) error {
	ck, err := courseArg(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Store.Publish(ctx, userID, ck); err != nil {
			return err
		}
		idx, err := a.Store.GetCourseIndexInfo(ctx, ck)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s %s\n", ck.ForBranch(keys.PublishedBranch), idx.Versions[keys.PublishedBranch])
		return nil
	})
}

func runCourseHistory(cmd *cobra.Command, args []string) error {
	ck, err := courseArg(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		info, err := a.Store.GetCourseHistoryInfo(ctx, ck)
		if err != nil {
			return err
		}
		lineage, err := a.Store.GetStructureHistory(ctx, ck)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "original %s\n", info.OriginalVersion)
		for _, v := range lineage {
			fmt.Fprintln(out, v)
		}
		return nil
	})
}

func runCourseDelete(cmd *cobra.Command, args []string) error {
	ck, err := courseArg(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Store.DeleteCourse(ctx, userID, ck); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ck.VersionAgnostic())
		return nil
	})
}
