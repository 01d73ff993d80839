package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ResolveStoryContent fills ResolvedContent from Content, or from ContentFile
// relative to dataDir. A missing content file, or one outside dataDir, leaves it nil.
func ResolveStoryContent(dataDir string, story Story) (StoryWithContent, error) {
	out := StoryWithContent{Story: story}
	if story.Content != nil && *story.Content != "" {
		content := *story.Content
		out.ResolvedContent = &content
		return out, nil
	}
	if story.ContentFile == nil || *story.ContentFile == "" {
		return out, nil
	}

	rel := filepath.Clean(filepath.FromSlash(*story.ContentFile))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		slog.Warn("story content file escapes data dir", "story_id", story.ID, "content_file", *story.ContentFile)
		return out, nil
	}
	data, err := os.ReadFile(filepath.Join(dataDir, rel))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read content file: %w", err)
	}
	content := string(data)
	out.ResolvedContent = &content
	return out, nil
}
