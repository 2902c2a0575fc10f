package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSinglePagePDF 生成只有一页文本的最小PDF，xref 偏移按实际写入位置计算
func buildSinglePagePDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart)
	return buf.Bytes()
}

func TestNewEinoPDFTextExtractor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx, WithParseTimeout(2*time.Second))
	require.NoError(t, err, "创建PDF提取器不应返回错误")
	require.NotNil(t, extractor.parser)
	assert.Equal(t, 2*time.Second, extractor.timeout)
}

func TestExtractTextFromGeneratedPDF(t *testing.T) {
	ctx := context.Background()
	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)

	text, err := extractor.ExtractText(ctx, buildSinglePagePDF("Hello Resume"), "memory://hello.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "Hello Resume")
}

func TestExtractTextFromReaderMetadata(t *testing.T) {
	ctx := context.Background()
	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)

	text, meta, err := extractor.ExtractTextFromReader(ctx, bytes.NewReader(buildSinglePagePDF("Meta Test")), "memory://meta.pdf",
		map[string]any{"source": "unit-test"})
	require.NoError(t, err)
	assert.Equal(t, "unit-test", meta["source"])
	assert.Equal(t, len(text), meta["text_length"])
	assert.Equal(t, 1, meta["document_count"])
}

func TestExtractTextInvalidPDF(t *testing.T) {
	ctx := context.Background()
	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)

	_, err = extractor.ExtractText(ctx, []byte("definitely not a pdf"), "memory://broken.pdf")
	assert.Error(t, err)
}

// TestExtractTextFromTestdata 仓库 testdata 中有真实简历时才运行
func TestExtractTextFromTestdata(t *testing.T) {
	matches, _ := filepath.Glob(filepath.Join("testdata", "*.pdf"))
	if len(matches) == 0 {
		t.Skip("testdata 中没有PDF文件，跳过")
	}

	ctx := context.Background()
	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		text, err := extractor.ExtractText(ctx, data, path)
		require.NoError(t, err, path)
		assert.NotEmpty(t, text, path)
	}
}
