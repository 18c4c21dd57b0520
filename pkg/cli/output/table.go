// Package output 提供CLI的表格、JSON与彩色消息输出
package output

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Table 简单表格输出
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable 创建表格
func NewTable(headers []string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		widths:  widths,
	}
}

// AddRow 添加行
func (t *Table) AddRow(row []string) {
	// 更新列宽
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
	t.rows = append(t.rows, row)
}

// Render 渲染表格
// 纯数字列（含ms/%后缀）右对齐，其余左对齐
func (t *Table) Render() {
	rightAlign := make([]bool, len(t.headers))
	for i := range t.headers {
		rightAlign[i] = t.columnNumeric(i)
	}

	// 打印表头
	headerColor := color.New(color.FgCyan, color.Bold)
	for i, h := range t.headers {
		headerColor.Print(pad(h, t.widths[i], rightAlign[i]))
		headerColor.Print("  ")
	}
	fmt.Println()

	// 打印分隔线
	for i := range t.headers {
		fmt.Print(strings.Repeat("-", t.widths[i]))
		fmt.Print("  ")
	}
	fmt.Println()

	// 打印数据行
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(t.widths) {
				fmt.Print(pad(cell, t.widths[i], rightAlign[i]))
				fmt.Print("  ")
			}
		}
		fmt.Println()
	}
}

// columnNumeric 该列所有非空单元格是否都是数字
func (t *Table) columnNumeric(col int) bool {
	seen := false
	for _, row := range t.rows {
		if col >= len(row) || row[col] == "" {
			continue
		}
		if !numericCell(row[col]) {
			return false
		}
		seen = true
	}
	return seen
}

// numericCell 判断单元格是否为数字（允许ms/%后缀和小数点）
func numericCell(s string) bool {
	s = strings.TrimSuffix(s, "ms")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

// pad 按列宽补齐单元格
func pad(s string, width int, right bool) string {
	if right {
		return fmt.Sprintf("%*s", width, s)
	}
	return fmt.Sprintf("%-*s", width, s)
}
