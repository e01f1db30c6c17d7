package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/build-coordinator/pkg/cli/output"
	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/builder"
	"github.com/LENAX/build-coordinator/pkg/core/rebuild"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

var planMode string

// planCmd 预览重建决策
var planCmd = &cobra.Command{
	Use:   "plan <graph.yaml>",
	Short: "预览配置集的重建决策（不执行构建）",
	Long: `读取配置集文件，按构建记录计算每个配置是否需要重新构建。

示例：
  build-coordinator plan ./graphs/product.yaml
  build-coordinator plan ./graphs/product.yaml --mode explicit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := config.LoadGraphFile(args[0])
		if err != nil {
			output.Error("读取配置集失败: %v", err)
			return err
		}

		eng, err := newLocalEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer eng.Stop()

		mode, err := graphMode(g, planMode, "")
		if err != nil {
			output.Error("%v", err)
			return err
		}
		set, err := eng.Plan(context.Background(), builder.Submission{
			Name:     g.Name,
			RecordID: g.RecordID,
			Configs:  g.Configs,
			Mode:     mode,
			Cause:    "plan",
		})
		if err != nil {
			output.Error("配置集无效: %v", err)
			return err
		}

		snap := set.Snapshot()
		if outputJSON {
			return output.PrintJSON(snap)
		}
		printPlan(snap)
		return nil
	},
}

func init() {
	planCmd.Flags().StringVarP(&planMode, "mode", "m", "", "重建模式 (force/implicit/explicit)，默认使用配置集声明的模式")
}

// graphMode 命令行指定的模式优先于配置集声明的模式
func graphMode(g *config.GraphFile, override string, fallback rebuild.Mode) (rebuild.Mode, error) {
	if override != "" {
		return rebuild.ParseMode(override)
	}
	return g.RebuildMode(fallback)
}

// printPlan 输出重建计划（按依赖顺序）
func printPlan(snap task.SetSnapshot) {
	names := configNames(snap)
	table := output.NewTable([]string{"CONFIG", "DEPENDS_ON", "FINGERPRINT", "ACTION", "REASON"})
	build := 0
	for _, t := range snap.Tasks {
		action := "reuse"
		if t.Decision.MustBuild {
			action = "build"
			build++
		}
		table.AddRow([]string{
			t.Config.DisplayName(),
			joinConfigs(t.Dependencies, names),
			string(t.Config.Fingerprint),
			action,
			string(t.Decision.Reason),
		})
	}
	fmt.Printf("配置集: %s  模式: %s\n\n", snap.Name, snap.Mode)
	table.Render()
	fmt.Printf("\n需要构建: %d  可复用: %d  总计: %d\n", build, len(snap.Tasks)-build, len(snap.Tasks))
}

func configNames(snap task.SetSnapshot) map[types.TaskID]string {
	names := make(map[types.TaskID]string, len(snap.Tasks))
	for _, t := range snap.Tasks {
		names[t.ID] = t.Config.ID
	}
	return names
}

func joinConfigs(ids []types.TaskID, names map[types.TaskID]string) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, names[id])
	}
	return strings.Join(parts, ",")
}
