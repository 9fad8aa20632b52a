package taskparse

import (
	"regexp"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

type taskRule struct {
	taskType schemas.TaskType
	pattern  *regexp.Regexp
}

// taskRules is ranked: the first matching rule decides the task type.
var taskRules = []taskRule{
	{schemas.TaskJobApply, regexp.MustCompile(`(?i)\bapply\b.*\b(job|position|role|opening)s?\b|\b(job|position|role)s?\b.*\bapply\b`)},
	{schemas.TaskJobView, regexp.MustCompile(`(?i)\b(view|open|see|show|check)\b.*\bjob\b`)},
	{schemas.TaskJobSearch, regexp.MustCompile(`(?i)\b(search|find|look|browse)\b.*\bjobs?\b`)},
	{schemas.TaskBooking, regexp.MustCompile(`(?i)\b(book\s+(a|an|the)|booking|reserve|reservation|rent\s+(a|an|the))\b`)},
	{schemas.TaskRegister, regexp.MustCompile(`(?i)\b(register|sign\s*up|create\s+(an\s+)?account)\b`)},
	{schemas.TaskLogin, regexp.MustCompile(`(?i)\b(log\s*in|login|sign\s*in|authenticate)\b`)},
	{schemas.TaskComment, regexp.MustCompile(`(?i)\b(comment|review)\b`)},
	{schemas.TaskModify, regexp.MustCompile(`(?i)\b(edit|update|change|modify|delete|remove)\b`)},
	{schemas.TaskForm, regexp.MustCompile(`(?i)\b(fill|form|contact|submit)\b`)},
	{schemas.TaskFilter, regexp.MustCompile(`(?i)\b(filter|sort\s+by|genre|category)\b`)},
	{schemas.TaskSearch, regexp.MustCompile(`(?i)\b(search|find|look\s+for)\b`)},
	{schemas.TaskSocial, regexp.MustCompile(`(?i)\b(like|follow|share|connect|post)\b`)},
	{schemas.TaskClick, regexp.MustCompile(`(?i)\b(click|press|tap|select|choose|open)\b`)},
	{schemas.TaskCalendar, regexp.MustCompile(`(?i)\b(calendar|event|meeting|month\s+view|week\s+view|day\s+view)\b`)},
	{schemas.TaskTypeText, regexp.MustCompile(`(?i)\b(type|enter|write|input)\b`)},
	{schemas.TaskExtract, regexp.MustCompile(`(?i)\b(extract|details?|show|view|get|read|info)\b`)},
}

// Classify returns the task type for a prompt. Prompts that decompose into
// several steps are multi_step.
func Classify(prompt string) schemas.TaskType {
	if len(SplitSteps(prompt)) >= 2 {
		return schemas.TaskMultiStep
	}
	return ClassifySingle(prompt)
}

// ClassifySingle ignores multi-step structure.
func ClassifySingle(prompt string) schemas.TaskType {
	for _, r := range taskRules {
		if r.pattern.MatchString(prompt) {
			return r.taskType
		}
	}
	return schemas.TaskGeneric
}
