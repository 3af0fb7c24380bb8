package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/reviewd/pkg/analyzer"
	"github.com/codeready-toolchain/reviewd/pkg/models"
	"github.com/codeready-toolchain/reviewd/pkg/rules"
)

// fileAnalysis is the outcome of line analysis for one file. analyzed is
// true once at least one batch came back, so a file whose every batch
// failed does not count as reviewed.
type fileAnalysis struct {
	findings []models.LineFinding
	errs     []analysisError
	analyzed bool
}

type analysisError struct {
	target  string
	message string
}

// analyzeFile submits one file's delta ranges to the analyzer in chunk
// batches. A failed batch loses only its own chunks; cancellation stops
// quietly and lets the run loop classify it.
func (a *Agent) analyzeFile(ctx context.Context, state *models.AgentState, path string) fileAnalysis {
	var res fileAnalysis

	set, ok := a.rules.ForFile(path)
	if !ok {
		return res
	}
	slice := state.ChangeDelta.Slice(path)
	outline := state.ParsedFiles[path]
	if slice == nil || outline == nil {
		return res
	}

	chunks := buildChunks(slice, outline, set.Language)
	if len(chunks) == 0 {
		return res
	}

	spec := set.Spec()
	for start := 0; start < len(chunks); start += a.batchSize {
		if ctx.Err() != nil {
			return res
		}
		batch := chunks[start:min(start+a.batchSize, len(chunks))]
		findings, err := a.analyzer.Analyze(ctx, spec, batch)
		a.metrics.RecordAPICall("analyzer", err)
		if err != nil {
			if ctx.Err() != nil {
				return res
			}
			res.errs = append(res.errs, analysisError{
				target: path,
				message: fmt.Sprintf("analyze lines %d-%d: %v",
					batch[0].Context.StartLine, batch[len(batch)-1].Context.EndLine, err),
			})
			continue
		}
		res.analyzed = true
		res.findings = append(res.findings, findings...)
	}
	return res
}

// buildChunks turns each changed range of a file into one analyzer chunk:
// the range's lines plus the structural context the outline recovered.
// The enclosing definition is resolved at the range midpoint, which is
// the best single answer when a range spans a boundary.
func buildChunks(slice *models.FileSlice, outline *models.FileOutline, language string) []analyzer.Chunk {
	lines := strings.Split(slice.TargetContent, "\n")
	chunks := make([]analyzer.Chunk, 0, len(slice.LineRanges))
	for _, r := range slice.LineRanges {
		start, end := r.Start, r.End
		if start < 1 {
			start = 1
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start > end {
			continue
		}

		enclosing := ""
		if def := outline.EnclosingDefinition((start + end) / 2); def != nil {
			enclosing = def.Kind + " " + def.Name
		}

		chunks = append(chunks, analyzer.Chunk{
			Context: analyzer.ChunkContext{
				Language:  language,
				Path:      slice.Path,
				StartLine: start,
				EndLine:   end,
				Enclosing: enclosing,
				Imports:   outline.Imports,
			},
			Content: strings.Join(lines[start-1:end], "\n"),
		})
	}
	return chunks
}

// buildArchFiles assembles the delta for the architecture pass: the full
// current content of every reviewable text file, with outline structure
// where parsing succeeded. Parse failures still contribute content, since
// the cross-file pass reads whole files rather than outlines.
func (a *Agent) buildArchFiles(state *models.AgentState) []analyzer.ArchitectureFile {
	delta := state.ChangeDelta
	files := make([]analyzer.ArchitectureFile, 0, len(delta.Files))
	for i := range delta.Files {
		slice := &delta.Files[i]
		set, ok := a.rules.ForFile(slice.Path)
		if !ok || slice.TargetContent == "" || rules.BinaryContent(slice.TargetContent) {
			continue
		}
		file := analyzer.ArchitectureFile{
			Path:     slice.Path,
			Language: set.Language,
			Content:  slice.TargetContent,
		}
		if outline := state.ParsedFiles[slice.Path]; outline != nil {
			file.Imports = outline.Imports
			file.Definitions = outline.Definitions
		}
		files = append(files, file)
	}
	return files
}
