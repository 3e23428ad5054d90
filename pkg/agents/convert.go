package agents

import (
	"log/slog"
	"strings"

	"github.com/rhuss/parley/pkg/api"
)

// Content part and annotation types produced by agent services.
const (
	PartText      = "text"
	PartImageFile = "image_file"

	AnnotationFileCitation = "file_citation"
	AnnotationFilePath     = "file_path"
)

// MetadataImages is the response metadata key listing image file ids.
const MetadataImages = "image"

// ToChatResponse converts an agent message into a response. Text parts
// are joined with newlines, file annotations become citations and image
// file ids are listed under metadata["image"].
func ToChatResponse(m api.AgentMessage) api.ChatResponse {
	resp := api.ChatResponse{
		ID:       m.ID,
		ThreadID: m.SessionID,
		AgentID:  m.AgentID,
		Metadata: map[string]any{},
	}

	var (
		texts  []string
		images []string
	)
	for _, part := range m.Parts {
		switch part.Type {
		case PartText:
			texts = append(texts, part.Text)
			for _, a := range part.Annotations {
				c, ok := annotationCitation(a)
				if !ok {
					slog.Warn("unknown annotation type", "type", a.Type, "message_id", m.ID)
					continue
				}
				resp.Citations = append(resp.Citations, c)
			}
		case PartImageFile:
			images = append(images, part.FileID)
		}
	}

	resp.Message = strings.Join(texts, "\n")
	if len(images) > 0 {
		resp.Metadata[MetadataImages] = images
	}
	return resp
}

// ToChatResponses converts a list of agent messages, keeping their order.
func ToChatResponses(msgs []api.AgentMessage) []api.ChatResponse {
	out := make([]api.ChatResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToChatResponse(m))
	}
	return out
}

func annotationCitation(a api.TextAnnotation) (api.Citation, bool) {
	start, end := a.StartIndex, a.EndIndex
	c := api.Citation{
		ID:          a.FileID,
		Start:       &start,
		End:         &end,
		ReplacePart: a.Text,
	}
	switch a.Type {
	case AnnotationFileCitation:
		c.Content = a.Quote
	case AnnotationFilePath:
	default:
		return api.Citation{}, false
	}
	return c, true
}
