package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
)

const pastedPath = "<pasted>"

// buildContext normalizes the input source into a uniform file list and
// computes the context summary. Oversized inputs are deterministically
// sampled: smaller files first, recognized extensions prioritized, ties
// broken by path.
func (o *Orchestrator) buildContext(st *state.State, stream *event.Stream) error {
	var files []state.File

	switch st.Source {
	case state.SourcePasted:
		code := st.Code
		if strings.TrimSpace(code) == "" {
			return errNoInput
		}
		files = []state.File{{
			Path:     pastedPath,
			Language: st.DetectedLanguage,
			Size:     len(code),
			Content:  code,
		}}

	case state.SourceFileList:
		files = filterFiles(st.Files)
		if len(files) == 0 {
			return fmt.Errorf("no scannable files in input")
		}

	case state.SourceServerPath:
		collected, err := collectServerPath(st.ServerPath)
		if err != nil {
			return err
		}
		if len(collected) == 0 {
			return fmt.Errorf("no scannable files under %s", st.ServerPath)
		}
		files = collected

	default:
		return fmt.Errorf("unknown input source %q", st.Source)
	}

	files, truncated := sampleFiles(files, o.env.MaxFiles, o.env.MaxTotalBytes)

	total := 0
	langSet := make(map[string]struct{})
	for _, f := range files {
		total += f.Size
		if f.Language != "" {
			langSet[f.Language] = struct{}{}
		}
	}
	languages := make([]string, 0, len(langSet))
	for lang := range langSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	st.Files = files
	st.Context = &state.ContextSummary{
		FileCount:  len(files),
		TotalBytes: total,
		Languages:  languages,
		Truncated:  truncated,
	}

	stream.Progress(st.AdvanceProgress(20))
	stream.Status(fmt.Sprintf("Context ready: %d files (%d bytes)", len(files), total))
	if truncated {
		stream.Status("Context exceeded limits; analysis uses a deterministic sample.")
	}
	return nil
}

func filterFiles(files []state.File) []state.File {
	out := make([]state.File, 0, len(files))
	for _, f := range files {
		path := strings.TrimSpace(f.Path)
		if path == "" {
			continue
		}
		lang, ok := extLanguages[strings.ToLower(filepath.Ext(path))]
		if !ok {
			continue
		}
		out = append(out, state.File{
			Path:     path,
			Language: lang,
			Size:     len(f.Content),
			Content:  f.Content,
		})
	}
	return out
}

const maxServerFileBytes = 512 * 1024

func collectServerPath(root string) ([]state.File, error) {
	root = strings.TrimSpace(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("folder path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("folder path %s is not a directory", root)
	}

	var out []state.File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return fs.SkipDir
			}
			return nil
		}
		lang, ok := extLanguages[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > maxServerFileBytes {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		out = append(out, state.File{
			Path:     filepath.ToSlash(rel),
			Language: lang,
			Size:     len(content),
			Content:  string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sampleFiles applies the truncation policy. Deterministic given the same
// input and thresholds: recognized-extension files (all of them by now) are
// ranked smallest-first with a stable path tie-break, then taken until either
// limit is hit.
func sampleFiles(files []state.File, maxFiles, maxBytes int) ([]state.File, bool) {
	total := 0
	for _, f := range files {
		total += f.Size
	}
	if len(files) <= maxFiles && total <= maxBytes {
		return files, false
	}

	ranked := make([]state.File, len(files))
	copy(ranked, files)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Size != ranked[j].Size {
			return ranked[i].Size < ranked[j].Size
		}
		return ranked[i].Path < ranked[j].Path
	})

	var out []state.File
	budget := maxBytes
	for _, f := range ranked {
		if len(out) >= maxFiles {
			break
		}
		if f.Size > budget {
			continue
		}
		out = append(out, f)
		budget -= f.Size
	}
	// Keep the original relative order of the chosen sample.
	chosen := make(map[string]struct{}, len(out))
	for _, f := range out {
		chosen[f.Path] = struct{}{}
	}
	ordered := make([]state.File, 0, len(out))
	for _, f := range files {
		if _, ok := chosen[f.Path]; ok {
			ordered = append(ordered, f)
		}
	}
	return ordered, true
}
