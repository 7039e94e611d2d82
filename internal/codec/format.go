package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/postfiat/memopipe/internal/model"
)

var chunkTokenPattern = regexp.MustCompile(`^c(\d+)/(\d+)$`)

// FormatString renders a structure's canonical "v<VER>.<enc>.<comp>.<chunking>" header.
func FormatString(s model.MemoStructure) string {
	enc := "-"
	if s.Encryption == model.EncryptionECDH {
		enc = "e"
	}
	comp := "-"
	if s.Compression == model.CompressionBrotli {
		comp = "b"
	}
	chunking := "-"
	if s.IsChunked() {
		chunking = fmt.Sprintf("c%d/%d", s.ChunkIndex, s.ChunkTotal)
	}
	return fmt.Sprintf("v%s.%s.%s.%s", s.Version, enc, comp, chunking)
}

// ParseFormat parses a memo_format string into a MemoStructure. The
// canonical grammar splits from the right into exactly four tokens; any
// deviation is rejected (IsValidFormat=false), never guessed at.
func ParseFormat(format, groupID string) model.MemoStructure {
	tokens := strings.Split(format, ".")
	if len(tokens) != 4 {
		return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
	}

	versionTok, encTok, compTok, chunkTok := tokens[0], tokens[1], tokens[2], tokens[3]

	if !strings.HasPrefix(versionTok, "v") {
		return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
	}
	version := strings.TrimPrefix(versionTok, "v")
	if version != model.MemoVersion {
		return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
	}

	var enc model.EncryptionTag
	switch encTok {
	case "e":
		enc = model.EncryptionECDH
	case "-":
		enc = model.EncryptionNone
	default:
		return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
	}

	var comp model.CompressionTag
	switch compTok {
	case "b":
		comp = model.CompressionBrotli
	case "-":
		comp = model.CompressionNone
	default:
		return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
	}

	var index, total int
	if chunkTok != "-" {
		m := chunkTokenPattern.FindStringSubmatch(chunkTok)
		if m == nil {
			return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
		}
		idx, errIdx := strconv.Atoi(m[1])
		tot, errTot := strconv.Atoi(m[2])
		if errIdx != nil || errTot != nil || idx < 1 || idx > tot {
			return model.MemoStructure{IsValidFormat: false, GroupID: groupID}
		}
		index, total = idx, tot
	}

	return model.MemoStructure{
		Version:       version,
		Encryption:    enc,
		Compression:   comp,
		ChunkIndex:    index,
		ChunkTotal:    total,
		IsValidFormat: true,
		GroupID:       groupID,
	}
}
