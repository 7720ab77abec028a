package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"

	"github.com/promptlint/promptlint/internal/models"
)

// KeyVersion is mixed into every key. Bump it when the key layout or the
// stored payload changes so stale entries are never read.
const KeyVersion = "promptlint-cache-v1"

// KeyInput is everything that determines a provider response.
type KeyInput struct {
	Provider         string
	ProviderIdentity string
	Model            string
	Prompt           string
	Sampling         models.SamplingConfig
}

// Key derives the run cache key. Equal inputs always give equal keys, and
// changing any single field changes the key.
func Key(in KeyInput) string {
	h := sha256.New()

	writeString(h, KeyVersion)
	writeString(h, in.Provider)
	writeString(h, in.ProviderIdentity)
	writeString(h, in.Model)
	writeString(h, in.Prompt)

	writeFloat(h, in.Sampling.Temperature)
	writeFloat(h, in.Sampling.TopP)
	writeInt(h, in.Sampling.MaxTokens)
	if in.Sampling.Seed != nil {
		writeInt(h, *in.Sampling.Seed)
	} else {
		writeString(h, "-")
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Identifier names a provider and the endpoint identity that shapes its responses.
type Identifier interface {
	Name() string
	Identity() string
}

// CellKey is Key for a planned cell.
func CellKey(prompt, model string, provider Identifier, sampling models.SamplingConfig) string {
	return Key(KeyInput{
		Provider:         provider.Name(),
		ProviderIdentity: provider.Identity(),
		Model:            model,
		Prompt:           prompt,
		Sampling:         sampling,
	})
}

// TextHash is the content hash used to deduplicate embedding inputs.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbeddingKey keys one embedding vector by model and text.
func EmbeddingKey(model, text string) string {
	h := sha256.New()
	writeString(h, KeyVersion)
	writeString(h, model)
	writeString(h, TextHash(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Each field is followed by a null byte so adjacent fields cannot collide.
// hash.Hash writes never fail.

func writeString(h hash.Hash, s string) {
	_, _ = h.Write([]byte(s + "\x00"))
}

func writeInt(h hash.Hash, i int) {
	_, _ = fmt.Fprintf(h, "%d\x00", i)
}

func writeFloat(h hash.Hash, f float64) {
	writeString(h, strconv.FormatFloat(f, 'g', -1, 64))
}
