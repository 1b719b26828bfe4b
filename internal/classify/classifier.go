// Package classify implements the heuristic file classifier: known hashes,
// content patterns, entropy, type/extension mismatch and filename rules.
package classify

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/vigil-sec/vigil/internal/core"
)

const (
	chunkSize = 8192

	// suspiciousStringLimit is the total literal-substring count that must
	// be exceeded before strings alone mark a file.
	suspiciousStringLimit = 5
)

var mismatchExtensions = map[string]bool{
	".txt": true,
	".jpg": true,
	".pdf": true,
}

// Options configures a Classifier.
type Options struct {
	MaliciousPatterns   []string
	SuspiciousStrings   []string
	EntropyThreshold    float64
	MaliciousHashes     []string
	FilenamePatterns    []string
	SystemProcessNames  []string
	SuspiciousLocations []string
	MaxFileSize         int64
	CacheEnabled        bool
	CacheDuration       time.Duration
	CacheSize           int
}

// DefaultOptions returns the options implied by the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(core.DefaultConfig())
}

// OptionsFromConfig collects classifier settings from the config sections
// that carry them.
func OptionsFromConfig(cfg *core.Config) Options {
	return Options{
		MaliciousPatterns:   cfg.CodeAnalysis.MaliciousPatterns,
		SuspiciousStrings:   cfg.CodeAnalysis.SuspiciousStrings,
		EntropyThreshold:    cfg.CodeAnalysis.EntropyThreshold,
		MaliciousHashes:     cfg.ProcessMonitoring.MaliciousHashes,
		FilenamePatterns:    cfg.FileMonitoring.SuspiciousPatterns,
		SystemProcessNames:  cfg.CodeAnalysis.SystemProcessNames,
		SuspiciousLocations: cfg.CodeAnalysis.SuspiciousLocations,
		MaxFileSize:         cfg.FileMonitoring.MaxFileSize,
		CacheEnabled:        cfg.Performance.UseFileCache,
		CacheDuration:       core.Seconds(cfg.Performance.CacheDuration, time.Hour),
		CacheSize:           cfg.Performance.CacheSize,
	}
}

// Verdict is the classifier's decision for one file.
type Verdict struct {
	Path       string    `json:"path"`
	Suspicious bool      `json:"is_suspicious"`
	Reasons    []string  `json:"reasons"`
	Hash       string    `json:"md5,omitempty"`
	Entropy    *float64  `json:"entropy,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Report is a full, uncached analysis of one file.
type Report struct {
	Verdict
	Name     string    `json:"name"`
	Ext      string    `json:"extension"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modified"`
	Type     string    `json:"type,omitempty"`
	Patterns []string  `json:"patterns"`
}

// Classifier decides whether a file is suspicious. It is safe for
// concurrent use.
type Classifier struct {
	opts      Options
	patterns  []*regexp.Regexp
	strs      []string
	globs     []glob
	sysNames  map[string]bool
	locations []string
	sniffer   Sniffer
	cache     *expirable.LRU[string, Verdict]
	metrics   *core.Metrics
	logger    zerolog.Logger

	mu     sync.RWMutex
	hashes map[string]bool
}

type glob struct {
	raw string
	re  *regexp.Regexp
}

// New creates a Classifier. A nil sniffer disables type sniffing; metrics
// may be nil.
func New(opts Options, sniffer Sniffer, metrics *core.Metrics, logger zerolog.Logger) (*Classifier, error) {
	if sniffer == nil {
		sniffer = NopSniffer{}
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 52428800
	}
	if opts.EntropyThreshold <= 0 {
		opts.EntropyThreshold = 7.0
	}

	c := &Classifier{
		opts:     opts,
		sysNames: make(map[string]bool),
		hashes:   make(map[string]bool),
		sniffer:  sniffer,
		metrics:  metrics,
		logger:   logger.With().Str("component", "classifier").Logger(),
	}

	for _, p := range opts.MaliciousPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	for _, s := range opts.SuspiciousStrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			c.strs = append(c.strs, s)
		}
	}
	for _, g := range opts.FilenamePatterns {
		c.globs = append(c.globs, glob{raw: g, re: compileGlob(strings.ToLower(g))})
	}
	for _, n := range opts.SystemProcessNames {
		c.sysNames[strings.ToLower(n)] = true
	}
	for _, l := range opts.SuspiciousLocations {
		c.locations = append(c.locations, strings.ToLower(l))
	}
	c.AddMaliciousHashes(opts.MaliciousHashes)

	if opts.CacheEnabled {
		ttl := opts.CacheDuration
		if ttl <= 0 {
			ttl = time.Hour
		}
		c.cache = expirable.NewLRU[string, Verdict](opts.CacheSize, nil, ttl)
	}
	return c, nil
}

// compileGlob turns a filename pattern into a regexp where * is the only
// wildcard. The result is unanchored: a pattern matches anywhere in the name.
func compileGlob(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(strings.Join(parts, ".*"))
}

// Classify returns the verdict for path. Files that are missing, unreadable,
// empty or larger than the size limit are declined: not suspicious, with
// the reason noted in Verdict.Error.
func (c *Classifier) Classify(path string) Verdict {
	if c.cache != nil {
		if v, ok := c.cache.Get(path); ok {
			return v
		}
	}

	v := c.classify(path)
	if v.Error == "" && c.cache != nil {
		c.cache.Add(path, v)
	}
	c.metrics.ObserveVerdict(v.Suspicious)
	return v
}

// IsSuspicious is shorthand for Classify(path).Suspicious.
func (c *Classifier) IsSuspicious(path string) bool {
	return c.Classify(path).Suspicious
}

// Report analyzes path without the cache and includes file metadata.
func (c *Classifier) Report(path string) (Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, err
	}
	if info.IsDir() {
		return Report{}, fmt.Errorf("%s is a directory", path)
	}

	v := c.classify(path)
	typ, _ := c.sniffer.Sniff(path)

	var pats []string
	for _, re := range c.patterns {
		pats = append(pats, strings.TrimPrefix(re.String(), "(?i)"))
	}

	return Report{
		Verdict:  v,
		Name:     info.Name(),
		Ext:      strings.ToLower(filepath.Ext(path)),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Type:     typ,
		Patterns: pats,
	}, nil
}

// AddMaliciousHashes extends the known-hash set. Cached verdicts are purged
// since they were computed against the old set.
func (c *Classifier) AddMaliciousHashes(hashes []string) {
	c.mu.Lock()
	for _, h := range hashes {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			c.hashes[h] = true
		}
	}
	c.mu.Unlock()
	c.ClearCache()
}

// ClearCache drops every cached verdict.
func (c *Classifier) ClearCache() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// CacheLen returns the number of cached verdicts.
func (c *Classifier) CacheLen() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func (c *Classifier) declined(path, why string) Verdict {
	c.logger.Debug().Str("path", path).Str("reason", why).Msg("file not analyzed")
	return Verdict{Path: path, Reasons: []string{}, Error: why, CheckedAt: time.Now()}
}

func (c *Classifier) classify(path string) Verdict {
	info, err := os.Stat(path)
	if err != nil {
		return c.declined(path, err.Error())
	}
	if !info.Mode().IsRegular() {
		return c.declined(path, "not a regular file")
	}
	if info.Size() > c.opts.MaxFileSize {
		return c.declined(path, fmt.Sprintf("file size %d exceeds limit %d", info.Size(), c.opts.MaxFileSize))
	}
	if info.Size() == 0 {
		return c.declined(path, "empty file")
	}

	scan, err := c.scan(path)
	if err != nil {
		return c.declined(path, err.Error())
	}

	v := Verdict{Path: path, Reasons: []string{}, Hash: scan.md5, CheckedAt: time.Now()}
	entropy := Entropy(scan.head)
	v.Entropy = &entropy

	c.mu.RLock()
	known := c.hashes[scan.md5]
	c.mu.RUnlock()
	if known {
		v.Reasons = append(v.Reasons, "known malicious hash: "+scan.md5)
	}

	for i, re := range c.patterns {
		if n := scan.patternHits[i]; n > 0 {
			v.Reasons = append(v.Reasons, fmt.Sprintf("malicious pattern %q found %d times", strings.TrimPrefix(re.String(), "(?i)"), n))
		}
	}
	if scan.stringHits > suspiciousStringLimit {
		v.Reasons = append(v.Reasons, fmt.Sprintf("suspicious strings found %d times", scan.stringHits))
	}

	if entropy > c.opts.EntropyThreshold {
		v.Reasons = append(v.Reasons, fmt.Sprintf("high entropy: %.2f", entropy))
	}

	if r := c.typeMismatch(path, scan.head); r != "" {
		v.Reasons = append(v.Reasons, r)
	}
	v.Reasons = append(v.Reasons, c.filenameReasons(path)...)

	v.Suspicious = len(v.Reasons) > 0
	if v.Suspicious {
		c.logger.Debug().Str("path", path).Strs("reasons", v.Reasons).Msg("suspicious file")
	}
	return v
}

type scanResult struct {
	md5         string
	head        []byte
	patternHits []int
	stringHits  int
}

// scan streams the file once, hashing everything, keeping the first chunk
// for entropy and counting pattern and string matches per chunk.
func (c *Classifier) scan(path string) (scanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return scanResult{}, err
	}
	defer f.Close()

	res := scanResult{patternHits: make([]int, len(c.patterns))}
	h := md5.New()
	buf := make([]byte, chunkSize)
	first := true

	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			if first {
				res.head = append([]byte(nil), chunk...)
				first = false
			}
			c.matchChunk(chunk, &res)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return scanResult{}, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	res.md5 = hex.EncodeToString(h.Sum(nil))
	return res, nil
}

func (c *Classifier) matchChunk(chunk []byte, res *scanResult) {
	if len(c.patterns) == 0 && len(c.strs) == 0 {
		return
	}
	text := strings.ToLower(strings.ToValidUTF8(string(chunk), ""))
	for i, re := range c.patterns {
		res.patternHits[i] += len(re.FindAllStringIndex(text, -1))
	}
	for _, s := range c.strs {
		res.stringHits += strings.Count(text, s)
	}
}

func (c *Classifier) typeMismatch(path string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		if len(head) >= 2 && head[0] == 'M' && head[1] == 'Z' {
			return "executable without extension (MZ header)"
		}
		return ""
	}
	if !mismatchExtensions[ext] {
		return ""
	}
	typ, err := c.sniffer.Sniff(path)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("type sniffing failed")
		return ""
	}
	if strings.Contains(strings.ToLower(typ), "executable") {
		return fmt.Sprintf("type mismatch: executable disguised as %s", ext)
	}
	return ""
}

func (c *Classifier) filenameReasons(path string) []string {
	var reasons []string
	name := strings.ToLower(filepath.Base(path))

	// one filename reason at most, from the first matching pattern
	for _, g := range c.globs {
		if g.re.MatchString(name) {
			reasons = append(reasons, fmt.Sprintf("filename matches suspicious pattern %q", g.raw))
			break
		}
	}

	if c.sysNames[name] {
		dir := strings.ToLower(filepath.Dir(path))
		for _, loc := range c.locations {
			if strings.Contains(dir, loc) {
				reasons = append(reasons, fmt.Sprintf("system process name %q in suspicious location %q", name, loc))
				break
			}
		}
	}
	return reasons
}
