// cmd/genegenie/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Corphon/GeneGenie/internal/config"
	"github.com/Corphon/GeneGenie/internal/extract"
	"github.com/Corphon/GeneGenie/internal/models"
	"github.com/Corphon/GeneGenie/internal/pdftext"
	"github.com/Corphon/GeneGenie/internal/services"
	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/fatih/color"

	_ "github.com/Corphon/GeneGenie/internal/llm/providers/anthropic"
	_ "github.com/Corphon/GeneGenie/internal/llm/providers/openai"
)

type options struct {
	in        string
	out       string
	format    string
	summarize bool
	workers   int
	verbose   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.in, "in", "", "Input PDF (or .txt) file")
	flag.StringVar(&opts.out, "out", "-", "Output file, - for stdout")
	flag.StringVar(&opts.format, "format", services.FormatCSV, "Output format: csv, json, markdown")
	flag.BoolVar(&opts.summarize, "summarize", false, "Request an LLM summary for every sequence")
	flag.IntVar(&opts.workers, "workers", 4, "Concurrent extraction and summary workers")
	flag.BoolVar(&opts.verbose, "v", false, "Write service logs to stderr")
	flag.Parse()

	if opts.in == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := utils.GetLogger()
	logger.SetOutput(os.Stderr)
	logger.Enable(opts.verbose)

	var summarizer services.Summarizer
	if opts.summarize {
		s, err := newSummarizer()
		if err != nil {
			color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		summarizer = s
	}

	doc, err := run(ctx, opts, summarizer)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stderr, doc, opts)
}

// newSummarizer 从环境变量构造LLM服务
func newSummarizer() (services.Summarizer, error) {
	cfg, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	llmService := services.NewLLMService(cfg.LLMProvider, cfg.LLMSettings(), nil, utils.NewAppMetrics())
	if !llmService.IsReady() {
		return nil, fmt.Errorf("LLM服务未就绪: %s", llmService.GetReadyState())
	}
	return llmService, nil
}

// run 读取输入、抽取序列、可选地生成摘要并写出结果
func run(ctx context.Context, opts options, summarizer services.Summarizer) (*models.Document, error) {
	format, err := services.NormalizeFormat(opts.format)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(opts.in)
	if err != nil {
		return nil, fmt.Errorf("读取输入文件失败: %w", err)
	}

	var pages []string
	if strings.EqualFold(filepath.Ext(opts.in), ".txt") {
		pages = []string{string(data)}
	} else {
		pages, err = pdftext.NewReader().Pages(ctx, data)
		if err != nil {
			return nil, err
		}
	}

	result, err := extract.NewPipeline(opts.workers).RunContext(ctx, pages)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		Filename:      filepath.Base(opts.in),
		Size:          int64(len(data)),
		Status:        models.DocumentStatusCompleted,
		PageCount:     result.PageCount,
		SentenceCount: result.SentenceCount,
		TextLength:    result.TextLength,
		Records:       result.Records,
	}

	if summarizer != nil && len(doc.Records) > 0 {
		summaries := services.NewSummaryService(summarizer, nil, utils.NewAppMetrics(), nil, opts.workers)
		enriched, err := summaries.EnrichAll(ctx, doc.Records)
		if err != nil {
			return nil, err
		}
		doc.Records = enriched
	}

	exported, err := services.NewExportService(nil).Export(doc, format)
	if err != nil {
		return nil, err
	}

	if err := writeOutput(opts.out, exported.Content); err != nil {
		return nil, err
	}
	return doc, nil
}

func writeOutput(path, content string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(os.Stdout, content)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("写入输出文件失败: %w", err)
	}
	return nil
}

// printReport 在标准错误输出彩色摘要
func printReport(w io.Writer, doc *models.Document, opts options) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintln(w, boldGreen("🧬 GeneGenie"))
	fmt.Fprintf(w, "File: %s (%d pages, %d sentences)\n", boldCyan(doc.Filename), doc.PageCount, doc.SentenceCount)

	if len(doc.Records) == 0 {
		fmt.Fprintln(w, yellow(doc.Message()))
		return
	}
	fmt.Fprintf(w, "Sequences: %s\n", boldCyan(len(doc.Records)))

	if opts.summarize {
		failed := 0
		for _, rec := range doc.Records {
			if rec.SummaryFailed() {
				failed++
			}
		}
		if failed > 0 {
			fmt.Fprintf(w, "%s\n", yellow(fmt.Sprintf("%d summaries failed", failed)))
		}
	}

	if opts.out != "" && opts.out != "-" {
		fmt.Fprintf(w, "Written to %s\n", boldCyan(opts.out))
	}
}
