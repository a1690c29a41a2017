package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/xid"
)

var (
	queueURL       string
	sourceBucket   string
	keyPrefix      string
	endpoint       string
	region         string
	numberOfFiles  int
	concurrency    int
	poisonRatio    float64
	maxRows        int
	sendTimeout    time.Duration
	currentPattern WorkloadPattern
)

func init() {
	queueURL = getEnv("SQS_QUEUE_URL", "")
	sourceBucket = getEnv("SOURCE_BUCKET", "")
	if queueURL == "" || sourceBucket == "" {
		fmt.Fprintf(os.Stderr, "ERROR: SQS_QUEUE_URL and SOURCE_BUCKET environment variables are required\n")
		os.Exit(1)
	}

	keyPrefix = getEnv("LOAD_TEST_PREFIX", "loadtest/")
	endpoint = getEnv("AWS_ENDPOINT_URL", "")
	region = getEnv("AWS_REGION", "us-east-1")
	numberOfFiles = getEnvInt("LOAD_TEST_FILES", 100)
	concurrency = getEnvInt("LOAD_TEST_CONCURRENCY", 4)
	poisonRatio = getEnvFloat("LOAD_TEST_POISON_RATIO", 0.05)
	maxRows = getEnvInt("LOAD_TEST_MAX_ROWS", 5000)
	sendTimeout = time.Duration(getEnvInt("LOAD_TEST_TIMEOUT_SECONDS", 60)) * time.Second
	currentPattern = WorkloadPattern(getEnv("LOAD_TEST_PATTERN", "wave"))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

type WorkloadPattern string

const (
	PatternSteady WorkloadPattern = "steady"
	PatternBurst  WorkloadPattern = "burst"
	PatternWave   WorkloadPattern = "wave"
)

// kinds of generated dataset
const (
	kindClean       = "clean"
	kindBadColumns  = "bad-columns"
	kindMissingFile = "missing"
)

type Result struct {
	Success  bool
	Duration time.Duration
	Index    int
	Rows     int
	Kind     string
	Key      string
	Error    string
}

type model struct {
	spinner    spinner.Model
	progress   progress.Model
	totalFiles int
	sent       int
	successful int
	failed     int
	poison     int
	rows       int
	recentLogs []logEntry
	errors     []string
	latencies  []time.Duration
	startTime  time.Time
	isComplete bool
	width      int
}

type logEntry struct {
	timestamp time.Time
	message   string
	success   bool
	poison    bool
}

type tickMsg time.Time
type resultMsg Result
type completeMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	poisonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2).
			MarginBottom(1)
)

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner:    s,
		progress:   progress.New(progress.WithDefaultGradient()),
		totalFiles: numberOfFiles,
		recentLogs: make([]logEntry, 0, 20),
		startTime:  time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tickMsg:
		if !m.isComplete {
			return m, tickCmd()
		}
		return m, nil

	case resultMsg:
		m.sent++
		m.latencies = append(m.latencies, msg.Duration)

		entry := logEntry{timestamp: time.Now(), success: msg.Success, poison: msg.Kind != kindClean}
		if msg.Success {
			m.successful++
			m.rows += msg.Rows
			if msg.Kind != kindClean {
				m.poison++
			}
			entry.message = fmt.Sprintf("%s %d rows (%s, %v)", msg.Key, msg.Rows, msg.Kind, msg.Duration.Round(time.Millisecond))
		} else {
			m.failed++
			entry.message = fmt.Sprintf("file %d failed: %s", msg.Index, msg.Error)
			m.errors = append([]string{msg.Error}, m.errors...)
			if len(m.errors) > 5 {
				m.errors = m.errors[:5]
			}
		}

		m.recentLogs = append([]logEntry{entry}, m.recentLogs...)
		if len(m.recentLogs) > 10 {
			m.recentLogs = m.recentLogs[:10]
		}
		return m, nil

	case completeMsg:
		m.isComplete = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Title Dataset Load Generator") + "\n")

	progressPercent := float64(m.sent) / float64(max(m.totalFiles, 1))
	progressText := fmt.Sprintf("Progress: %d/%d files (%.1f%%)", m.sent, m.totalFiles, progressPercent*100)
	if !m.isComplete {
		progressText = m.spinner.View() + " " + progressText
	} else {
		progressText = "✓ " + progressText
	}
	b.WriteString(progressText + "\n")
	b.WriteString(m.progress.ViewAs(progressPercent) + "\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderMetricsPanel(), m.renderLatencyPanel()) + "\n")
	b.WriteString(m.renderPatternPanel() + "\n")
	b.WriteString(m.renderLogPanel() + "\n")

	if len(m.errors) > 0 {
		var errs strings.Builder
		errs.WriteString(errorStyle.Render("Recent Errors:") + "\n\n")
		for _, e := range m.errors {
			errs.WriteString(fmt.Sprintf("  %s %s\n", errorStyle.Render("•"), e))
		}
		b.WriteString(boxStyle.Width(84).Render(errs.String()) + "\n")
	}

	if m.isComplete {
		b.WriteString(successStyle.Render("\n✓ Upload complete! Press 'q' to quit"))
	} else {
		b.WriteString(labelStyle.Render("\nPress 'q' to quit"))
	}
	return b.String()
}

func (m model) renderMetricsPanel() string {
	elapsed := time.Since(m.startTime)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(m.successful) / elapsed.Seconds()
	}

	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n\n%s %s\n%s %s files/s",
		labelStyle.Render("Notified:"), valueStyle.Render(strconv.Itoa(m.sent)),
		labelStyle.Render("Successful:"), successStyle.Render(strconv.Itoa(m.successful)),
		labelStyle.Render("Failed:"), errorStyle.Render(strconv.Itoa(m.failed)),
		labelStyle.Render("Poison:"), poisonStyle.Render(strconv.Itoa(m.poison)),
		labelStyle.Render("Rows:"), valueStyle.Render(strconv.Itoa(m.rows)),
		labelStyle.Render("Elapsed:"), valueStyle.Render(elapsed.Round(time.Second).String()),
		labelStyle.Render("Throughput:"), valueStyle.Render(fmt.Sprintf("%.2f", throughput)),
	)
	return boxStyle.Width(40).Render(content)
}

func (m model) renderLatencyPanel() string {
	minStr, maxStr, avgStr := "N/A", "N/A", "N/A"
	if len(m.latencies) > 0 {
		lo, hi, total := m.latencies[0], m.latencies[0], time.Duration(0)
		for _, l := range m.latencies {
			lo = min(lo, l)
			hi = max(hi, l)
			total += l
		}
		minStr = lo.Round(time.Millisecond).String()
		maxStr = hi.Round(time.Millisecond).String()
		avgStr = (total / time.Duration(len(m.latencies))).Round(time.Millisecond).String()
	}

	content := fmt.Sprintf(
		"%s\n%s %s\n%s %s\n%s %s\n\n%s %s\n%s %s",
		labelStyle.Render("Upload + notify latency:"),
		labelStyle.Render("  Min:"), valueStyle.Render(minStr),
		labelStyle.Render("  Max:"), valueStyle.Render(maxStr),
		labelStyle.Render("  Avg:"), valueStyle.Render(avgStr),
		labelStyle.Render("Workers:"), valueStyle.Render(strconv.Itoa(concurrency)),
		labelStyle.Render("Poison ratio:"), valueStyle.Render(fmt.Sprintf("%.0f%%", poisonRatio*100)),
	)
	return boxStyle.Width(40).Render(content)
}

func (m model) renderPatternPanel() string {
	current := float64(m.sent) / float64(max(m.totalFiles, 1))
	bars := []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var viz strings.Builder
	width := 60
	for i := 0; i < width; i++ {
		p := float64(i) / float64(width)
		idx := int(patternIntensity(currentPattern, p) * float64(len(bars)-1))
		if math.Abs(p-current) < 0.02 {
			viz.WriteString(successStyle.Render(string(bars[idx])))
		} else {
			viz.WriteString(labelStyle.Render(string(bars[idx])))
		}
	}

	content := fmt.Sprintf("%s %s\n\n%s", labelStyle.Render("Workload Pattern:"), valueStyle.Render(string(currentPattern)), viz.String())
	return boxStyle.Width(84).Render(content)
}

func (m model) renderLogPanel() string {
	var logs strings.Builder
	logs.WriteString(labelStyle.Render("Recent Activity:") + "\n\n")

	if len(m.recentLogs) == 0 {
		logs.WriteString(labelStyle.Render("  No activity yet..."))
	}
	for _, entry := range m.recentLogs {
		icon := successStyle.Render("✓")
		switch {
		case !entry.success:
			icon = errorStyle.Render("✗")
		case entry.poison:
			icon = poisonStyle.Render("☠")
		}
		logs.WriteString(fmt.Sprintf("  %s %s %s\n", labelStyle.Render(entry.timestamp.Format("15:04:05.000")), icon, entry.message))
	}
	return boxStyle.Width(84).Render(logs.String())
}

// patternIntensity is the relative load at progress p, between 0 and 1
func patternIntensity(pattern WorkloadPattern, p float64) float64 {
	switch pattern {
	case PatternBurst:
		if p < 0.3 || (p > 0.5 && p < 0.6) || (p > 0.8 && p < 0.9) {
			return 0.9
		}
		return 0.3
	case PatternWave:
		return (1 + math.Sin(p*6*math.Pi)) / 2
	default:
		return 0.5
	}
}

func getFileDelay(pattern WorkloadPattern, index int, total int, rng *rand.Rand) time.Duration {
	intensity := patternIntensity(pattern, float64(index)/float64(total))
	base := 20 + int((1-intensity)*400)
	return time.Duration(base+rng.Intn(20)) * time.Millisecond
}

// getRowCount grows the datasets when the pattern is busy
func getRowCount(pattern WorkloadPattern, index int, total int, rng *rand.Rand) int {
	intensity := patternIntensity(pattern, float64(index)/float64(total))
	return 1 + rng.Intn(max(1, int(float64(maxRows)*intensity)))
}

var (
	titleTypes = []string{"movie", "short", "tvSeries", "tvEpisode", "tvMovie", "video"}
	genreNames = []string{"Drama", "Comedy", "Documentary", "Action", "Romance", "Horror", "Animation", "Crime"}
	words      = []string{"Night", "River", "O'Brien", "100%", "Back\\slash", "Café", "Storm", "House", "Last", "Glass"}
)

func nullOr(rng *rand.Rand, v string) string {
	if rng.Float32() < 0.15 {
		return `\N`
	}
	return v
}

func generateTitle(rng *rand.Rand) string {
	n := 1 + rng.Intn(3)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[rng.Intn(len(words))]
	}
	return strings.Join(parts, " ")
}

// generateDataset writes a title TSV with a header row. Bad-column datasets
// break one row so the worker rejects the whole file.
func generateDataset(rng *rand.Rand, rows int, kind string) []byte {
	var b bytes.Buffer
	b.WriteString("tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres\n")

	broken := -1
	if kind == kindBadColumns {
		broken = rng.Intn(rows)
	}

	for i := 0; i < rows; i++ {
		title := generateTitle(rng)
		start := 1900 + rng.Intn(125)
		end := `\N`
		if rng.Float32() < 0.2 {
			end = strconv.Itoa(start + rng.Intn(10))
		}

		genres := make([]string, 1+rng.Intn(3))
		for g := range genres {
			genres[g] = genreNames[rng.Intn(len(genreNames))]
		}

		if i == broken {
			fmt.Fprintf(&b, "tt%s\t%s\n", xid.New().String(), title)
			continue
		}

		fmt.Fprintf(&b, "tt%08d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			rng.Intn(99999999),
			nullOr(rng, titleTypes[rng.Intn(len(titleTypes))]),
			title,
			nullOr(rng, title),
			rng.Intn(2),
			nullOr(rng, strconv.Itoa(start)),
			end,
			nullOr(rng, strconv.Itoa(30+rng.Intn(150))),
			nullOr(rng, strings.Join(genres, ",")),
		)
	}
	return b.Bytes()
}

// notificationFor builds the S3 event the bucket would publish, with the key
// form encoded the same way
func notificationFor(bucket, key string) ([]byte, error) {
	event := events.S3Event{
		Records: []events.S3EventRecord{{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			AWSRegion:    region,
			EventTime:    time.Now().UTC(),
			EventName:    "ObjectCreated:Put",
			S3: events.S3Entity{
				SchemaVersion: "1.0",
				Bucket:        events.S3Bucket{Name: bucket, Arn: "arn:aws:s3:::" + bucket},
				Object:        events.S3Object{Key: url.QueryEscape(key)},
			},
		}},
	}
	return json.Marshal(event)
}

type clients struct {
	sqs      *sqs.Client
	uploader *manager.Uploader
}

func sendFile(ctx context.Context, c clients, rng *rand.Rand, index int, total int) Result {
	kind := kindClean
	if rng.Float64() < poisonRatio {
		kind = kindBadColumns
		if rng.Float32() < 0.5 {
			kind = kindMissingFile
		}
	}

	rows := getRowCount(currentPattern, index, total, rng)
	key := fmt.Sprintf("%sbatch %s/title.basics.%06d.tsv", keyPrefix, time.Now().Format("2006-01-02"), index)

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	startTime := time.Now()

	if kind != kindMissingFile {
		data := generateDataset(rng, rows, kind)
		_, err := c.uploader.Upload(sendCtx, &s3.PutObjectInput{
			Bucket: aws.String(sourceBucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return Result{Index: index, Kind: kind, Duration: time.Since(startTime), Error: fmt.Sprintf("upload: %v", err)}
		}
	} else {
		rows = 0
	}

	body, err := notificationFor(sourceBucket, key)
	if err != nil {
		return Result{Index: index, Kind: kind, Error: fmt.Sprintf("JSON marshal error: %v", err)}
	}

	_, err = c.sqs.SendMessage(sendCtx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	duration := time.Since(startTime)
	if err != nil {
		return Result{Index: index, Kind: kind, Duration: duration, Error: fmt.Sprintf("notify: %v", err)}
	}

	return Result{Success: true, Index: index, Kind: kind, Key: key, Rows: rows, Duration: duration}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Unable to load SDK config: %v\n", err)
		os.Exit(1)
	}
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})
	c := clients{
		sqs:      sqs.NewFromConfig(cfg),
		uploader: manager.NewUploader(s3Client),
	}

	p := tea.NewProgram(initialModel(), tea.WithAltScreen())

	go func() {
		jobs := make(chan int, numberOfFiles)
		results := make(chan Result, numberOfFiles)

		var wg sync.WaitGroup
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

				for {
					select {
					case index, ok := <-jobs:
						if !ok {
							return
						}
						time.Sleep(getFileDelay(currentPattern, index, numberOfFiles, rng))
						results <- sendFile(ctx, c, rng, index, numberOfFiles)
					case <-ctx.Done():
						return
					}
				}
			}(w)
		}

		go func() {
			defer close(jobs)
			for i := 1; i <= numberOfFiles; i++ {
				select {
				case jobs <- i:
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			wg.Wait()
			close(results)
		}()

		for result := range results {
			p.Send(resultMsg(result))
		}
		p.Send(completeMsg{})
	}()

	go func() {
		<-sigChan
		cancel()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
