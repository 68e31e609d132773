package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	args, err := SplitCommand(`yt-dlp -o "${OUTPUT}" ${URL}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"yt-dlp", "-o", "${OUTPUT}", "${URL}"}, args)

	_, err = SplitCommand(`yt-dlp "unterminated`)
	assert.Error(t, err)
}

func TestValidateCommandTemplate(t *testing.T) {
	t.Run("accepts a well-formed template", func(t *testing.T) {
		args, err := SplitCommand("curl -sL -o ${OUTPUT} ${URL}")
		require.NoError(t, err)
		assert.NoError(t, ValidateCommandTemplate(args))
	})

	t.Run("rejects empty template", func(t *testing.T) {
		assert.Error(t, ValidateCommandTemplate(nil))
	})

	t.Run("rejects missing URL placeholder", func(t *testing.T) {
		err := ValidateCommandTemplate([]string{"curl", "-o", "${OUTPUT}"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), URLPlaceholder)
	})

	t.Run("rejects missing output placeholder", func(t *testing.T) {
		err := ValidateCommandTemplate([]string{"curl", "${URL}"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), OutputPlaceholder)
	})

	t.Run("rejects shell metacharacters", func(t *testing.T) {
		err := ValidateCommandTemplate([]string{"curl", "${URL}", "${OUTPUT}", "&&", "rm"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character")
	})
}
