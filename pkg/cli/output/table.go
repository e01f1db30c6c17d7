package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
	out     io.Writer
}

// NewTable 创建表格（输出到标准输出）
func NewTable(headers []string) *Table {
	return NewTableTo(os.Stdout, headers)
}

// NewTableTo 创建输出到指定 writer 的表格
func NewTableTo(out io.Writer, headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
		out:     out,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row []string) {
	// 更新列宽
	for i, cell := range row {
		if n := utf8.RuneCountInString(cell); i < len(t.widths) && n > t.widths[i] {
			t.widths[i] = n
		}
	}
	t.rows = append(t.rows, row)
}

// Len 数据行数
func (t *Table) Len() int {
	return len(t.rows)
}

// Render 渲染表格
func (t *Table) Render() {
	// 打印表头
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Fprint(t.out, pad(h, t.widths[i])+"  ")
	}
	fmt.Fprintln(t.out)

	// 打印分隔线
	for i := range t.headers {
		fmt.Fprint(t.out, strings.Repeat("-", t.widths[i]))
		fmt.Fprint(t.out, "  ")
	}
	fmt.Fprintln(t.out)

	// 打印数据行
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Fprint(t.out, pad(cell, t.widths[i])+"  ")
			}
		}
		fmt.Fprintln(t.out)
	}
}

func pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
