package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/textract"
	"go.uber.org/zap"
)

// DocumentAnalyzer runs layout analysis on raw document bytes and returns
// the block graph. Implemented by TextractAnalyzer; handlers depend on the
// interface so extraction is testable without AWS.
type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, doc []byte) ([]*textract.Block, error)
}

// AnalyzerConfig holds Textract client configuration
type AnalyzerConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
}

// TextractAnalyzer wraps the AWS Textract client
type TextractAnalyzer struct {
	client  *textract.Textract
	timeout time.Duration
	logger  *zap.Logger
}

// NewTextractAnalyzer creates a Textract-backed document analyzer. Static
// credentials are used when provided, otherwise the default AWS chain.
func NewTextractAnalyzer(cfg AnalyzerConfig, logger *zap.Logger) (*TextractAnalyzer, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &TextractAnalyzer{
		client:  textract.New(sess),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// AnalyzeDocument submits the document for forms and tables analysis.
// A failed call is the one hard error in the extraction path; everything
// downstream degrades instead of failing.
func (a *TextractAnalyzer) AnalyzeDocument(ctx context.Context, doc []byte) ([]*textract.Block, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	out, err := a.client.AnalyzeDocumentWithContext(ctx, &textract.AnalyzeDocumentInput{
		Document: &textract.Document{Bytes: doc},
		FeatureTypes: aws.StringSlice([]string{
			textract.FeatureTypeTables,
			textract.FeatureTypeForms,
		}),
	})
	if err != nil {
		a.logger.Error("Document analysis failed", zap.Error(err))
		return nil, fmt.Errorf("document analysis failed: %w", err)
	}

	a.logger.Debug("Document analyzed", zap.Int("blocks", len(out.Blocks)))
	return out.Blocks, nil
}
