package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/cli/client"
	"github.com/LENAX/build-coordinator/pkg/cli/output"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

var (
	taskConfigID string
	taskScript   string
	taskDeps     []string
	taskAttrs    map[string]string
	taskFP       string
	taskMode     string
)

// taskCmd task子命令
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "构建任务管理命令",
	Long:  `提交独立构建任务，查看或取消单个构建任务。`,
}

// taskSubmitCmd 提交独立构建任务
var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "提交独立构建任务",
	Long: `提交一个不属于任何配置集的构建任务，声明的依赖不会在本次提交内解析。

示例：
  build-coordinator task submit --id tool --script "make tool"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskConfigID == "" {
			output.Error("--id 不能为空")
			return fmt.Errorf("config id required")
		}
		c := client.New(serverURL)
		resp, err := c.SubmitTask(cmd.Context(), dto.SubmitTaskRequest{
			Config: types.BuildConfigRef{
				ID:           taskConfigID,
				BuildScript:  taskScript,
				Dependencies: taskDeps,
				Attributes:   taskAttrs,
				Fingerprint:  types.Fingerprint(taskFP),
			},
			Mode:  taskMode,
			Cause: "cli",
		})
		if err != nil {
			output.Error("提交失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(resp)
		}
		output.Success("%s: TaskID=%d", resp.Message, resp.TaskID)
		return nil
	},
}

// taskStatusCmd 查看任务状态
var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "查看构建任务状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("任务ID无效: %s", args[0])
			return err
		}
		c := client.New(serverURL)
		t, err := c.GetTask(cmd.Context(), id)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(t)
		}

		fmt.Printf("Task:        %d\n", t.ID)
		fmt.Printf("BuildSet:    %s\n", t.SetID)
		fmt.Printf("Config:      %s\n", t.ConfigID)
		fmt.Printf("Fingerprint: %s\n", t.Fingerprint)
		fmt.Printf("Status:      %s\n", output.FormatStatus(t.Status))
		fmt.Printf("Decision:    %s\n", t.DecisionReason)
		if t.Description != "" {
			fmt.Printf("Description: %s\n", t.Description)
		}
		if t.StartedAt != nil {
			fmt.Printf("Started:     %s\n", t.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if t.FinishedAt != nil {
			fmt.Printf("Finished:    %s (%s)\n", t.FinishedAt.Format("2006-01-02 15:04:05"), t.Duration)
		}
		if t.ErrorMessage != "" {
			fmt.Printf("Error:       %s\n", t.ErrorMessage)
		}
		return nil
	},
}

// taskCancelCmd 取消任务
var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "取消构建任务（未完成的下游任务随之失败）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("任务ID无效: %s", args[0])
			return err
		}
		c := client.New(serverURL)
		if err := c.CancelTask(cmd.Context(), id); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}
		output.Success("任务已请求取消: %d", id)
		return nil
	},
}

func init() {
	taskSubmitCmd.Flags().StringVar(&taskConfigID, "id", "", "配置ID")
	taskSubmitCmd.Flags().StringVar(&taskScript, "script", "", "构建脚本")
	taskSubmitCmd.Flags().StringSliceVar(&taskDeps, "depends-on", nil, "声明的依赖配置ID")
	taskSubmitCmd.Flags().StringToStringVar(&taskAttrs, "attr", nil, "构建属性 (key=value)")
	taskSubmitCmd.Flags().StringVar(&taskFP, "fingerprint", "", "配置指纹，默认按内容计算")
	taskSubmitCmd.Flags().StringVarP(&taskMode, "mode", "m", "", "重建模式 (force/implicit/explicit)")

	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCancelCmd)
}
