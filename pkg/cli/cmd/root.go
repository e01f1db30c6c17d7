// Package cmd 构建协调器命令行
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
	configPath string
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "build-coordinator",
	Short: "Build Coordinator CLI - 增量构建协调命令行工具",
	Long: `Build Coordinator CLI 用于提交和管理构建配置集。

支持的功能：
  - 本地预览重建决策（plan）和本地执行配置集（run）
  - 通过HTTP API提交、查看、取消组构建，订阅状态变更
  - 提交、查看、取消独立构建任务
  - 启动HTTP API服务

使用示例：
  # 预览哪些配置需要重新构建
  build-coordinator plan ./graphs/product.yaml

  # 提交配置集并等待完成
  build-coordinator set submit ./graphs/product.yaml --watch

  # 查看组构建状态
  build-coordinator set status <set-id>

  # 启动HTTP服务
  build-coordinator server start --port 8080`,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Build Coordinator服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（本地命令使用）")

	// 添加子命令
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}
