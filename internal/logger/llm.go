package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 分析引擎的请求/响应单独落盘，避免淹没主日志。
var (
	analysisMu   sync.Mutex
	analysisLog  *log.Logger
	analysisDump bool
)

func SetAnalysisWriter(w io.Writer) {
	analysisMu.Lock()
	defer analysisMu.Unlock()
	if w == nil {
		analysisLog = nil
		return
	}
	analysisLog = log.New(w, "", log.LstdFlags)
}

func EnableAnalysisDump(enabled bool) {
	analysisMu.Lock()
	analysisDump = enabled
	analysisMu.Unlock()
}

type dumpSection struct {
	Title string
	Body  string
}

func writeAnalysis(kind, provider, goalID string, sections []dumpSection) {
	analysisMu.Lock()
	out := analysisLog
	analysisMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ANALYSIS]")
	for _, tag := range []string{kind, provider, goalID} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- " + title + " ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

func LogAnalysisRequest(provider, goalID, systemPrompt, userPrompt, payload string) {
	sections := []dumpSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	analysisMu.Lock()
	dump := analysisDump
	analysisMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, dumpSection{Title: "PAYLOAD", Body: payload})
	}
	writeAnalysis("request", provider, goalID, sections)
}

func LogAnalysisResponse(provider, goalID, raw string) {
	writeAnalysis("response", provider, goalID, []dumpSection{{Title: "RAW", Body: raw}})
}
