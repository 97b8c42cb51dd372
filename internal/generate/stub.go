package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"contentmill/internal/pipeline"
)

// Stub answers a step without a model. Canned text is returned verbatim;
// otherwise it emits a JSON object with one string per produced key,
// derived from a digest of the prompt so equal prompts give equal output.
type Stub struct {
	Step   pipeline.StepDescriptor
	Canned string
}

// StubFactory binds stubs to steps. canned maps step names to fixed raw
// responses.
func StubFactory(canned map[string]string) Factory {
	return func(step pipeline.StepDescriptor) pipeline.Generator {
		return Stub{Step: step, Canned: canned[step.Name]}
	}
}

func (s Stub) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Canned != "" {
		return s.Canned, nil
	}
	sum := sha256.Sum256([]byte(prompt))
	tag := hex.EncodeToString(sum[:3])

	out := make(map[string]string, len(s.Step.Produces))
	for _, k := range s.Step.Produces {
		out[string(k)] = strings.ReplaceAll(string(k), "_", " ") + " " + tag
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
