package notify

import (
	"fmt"
	"strings"
	"time"
)

const maxMessageLen = 3800

// Section 表示通知中的一个段落。
type Section struct {
	Title string
	Lines []string
}

// Message 描述统一格式的推送正文。
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m Message) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func renderSections(secs []Section) string {
	var b strings.Builder
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "```\n" + b.String() + "```\n\n"
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// MessageFor 把事件转换成推送正文。
func MessageFor(ev Event) Message {
	msg := Message{Timestamp: ev.At}
	goalLines := []string{"ID: " + ev.GoalID}
	if ev.Description != "" {
		goalLines = append(goalLines, "描述: "+ev.Description)
	}
	switch ev.Kind {
	case KindMilestone:
		msg.Icon, msg.Title = "🎯", fmt.Sprintf("目标进度达到 %d%%", ev.Threshold)
		goalLines = append(goalLines, fmt.Sprintf("当前进度: %.2f%%", ev.Progress))
	case KindCompleted:
		msg.Icon, msg.Title = "🏁", "目标已完成"
		goalLines = append(goalLines, fmt.Sprintf("最终进度: %.2f%%", ev.Progress))
	case KindStatus:
		msg.Icon, msg.Title = "⏸", fmt.Sprintf("目标状态 %s → %s", ev.From, ev.To)
		msg.Footer = ev.Detail
	case KindSession:
		msg.Icon, msg.Title = "📈", "交易会话结束"
		if s := ev.Session; s != nil {
			msg.Sections = append(msg.Sections, Section{Title: "会话", Lines: []string{
				"状态: " + string(s.Status),
				fmt.Sprintf("解析/执行/拒绝/失败: %d/%d/%d/%d", s.ActionsParsed, s.ActionsExecuted, s.ActionsRejected, s.ActionsFailed),
				fmt.Sprintf("进度: %.2f%% → %.2f%%", s.ProgressBefore, s.ProgressAfter),
				s.Error,
			}})
		}
	default:
		msg.Title = string(ev.Kind)
	}
	msg.Sections = append([]Section{{Title: "目标", Lines: goalLines}}, msg.Sections...)
	return msg
}
