package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jllopis/reasoningbank/pkg/errors"
)

// EpisodeID formats "{task}_v{variation}_e{episode}".
func EpisodeID(taskID string, variation, episode int) string {
	return fmt.Sprintf("%s_v%d_e%d", taskID, variation, episode)
}

// SampleID formats "{task}_v{variation}_s{sample}", used for the extra
// samples of a multi-sample episode.
func SampleID(taskID string, variation, sample int) string {
	return fmt.Sprintf("%s_v%d_s%d", taskID, variation, sample)
}

// ParseEpisodeID is the inverse of EpisodeID.
func ParseEpisodeID(id string) (taskID string, variation, episode int, err error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] == "" ||
		!strings.HasPrefix(parts[1], "v") || !strings.HasPrefix(parts[2], "e") {
		return "", 0, 0, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("malformed episode ID %q", id), nil)
	}
	variation, err = strconv.Atoi(parts[1][1:])
	if err != nil {
		return "", 0, 0, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("malformed variation in episode ID %q", id), err)
	}
	episode, err = strconv.Atoi(parts[2][1:])
	if err != nil {
		return "", 0, 0, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("malformed episode index in episode ID %q", id), err)
	}
	return parts[0], variation, episode, nil
}
