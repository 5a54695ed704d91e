package job

import (
	"fmt"
	"strings"

	"ocrd/pkg/types"
)

const (
	instructionText     = "Please output the text content from the image."
	instructionFormula  = "Please write out the expression of the formula in the image using LaTeX format."
	instructionTableFmt = "This is the image of a table. Please output the table in %s format."
	instructionParse    = "Please output the content of this document page in Markdown. Write headings with #, formulas in LaTeX between $$, and tables in HTML."
)

// Instruction returns the prompt sent with every page for task.
func Instruction(task types.TaskKind, tableFormat string) (string, error) {
	switch task {
	case types.TaskText:
		return instructionText, nil
	case types.TaskFormula:
		return instructionFormula, nil
	case types.TaskTable:
		switch strings.ToLower(strings.TrimSpace(tableFormat)) {
		case "", "html":
			return fmt.Sprintf(instructionTableFmt, "html"), nil
		case "latex":
			return fmt.Sprintf(instructionTableFmt, "LaTeX"), nil
		}
		return "", validationErr("unsupported table format %q (want html or latex)", tableFormat)
	case types.TaskParse:
		return instructionParse, nil
	}
	return "", validationErr("unsupported task %q", task)
}
