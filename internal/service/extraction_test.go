package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"illustrationapi/internal/model"
	"illustrationapi/internal/repository"
	repoMocks "illustrationapi/internal/repository/mocks"
	"illustrationapi/internal/vision"
	visionMocks "illustrationapi/internal/vision/mocks"
)

const (
	symetra = "Symetra"
	ascent  = "Accumulator Ascent IUL"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func pages(n int) []model.PageImage {
	out := make([]model.PageImage, n)
	for i := range out {
		out[i] = model.PageImage{
			Data:      base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("page-%d", i))),
			MediaType: "image/png",
		}
	}
	return out
}

func identifyReply(carrier, product string) string {
	return fmt.Sprintf("Here is what I found:\n{\"carrier\": %q, \"product\": %q}", carrier, product)
}

func projectionsReply(rows int) string {
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"year":%d,"age":%d,"premium":"$12,000","policyValue":%d,"surrenderValue":%d,"deathBenefit":1000000}`,
			i+1, 45+i, (i+1)*11000, (i+1)*10000)
	}
	return `{"projections":[` + strings.Join(parts, ",") + `]}`
}

func expensesReply(rows int) string {
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"year":%d,"premiumCharge":600,"coi":1200,"adminCharge":120,"totalCharges":1920}`, i+1)
	}
	return `{"expenses":[` + strings.Join(parts, ",") + `]}`
}

const policyReply = `{"insuredName":"John Smith","insuredAge":45,"gender":"Male","riskClass":"Preferred Non-Tobacco","faceAmount":"$1,000,000","annualPremium":12000,"state":"WA"}`

// prompted matches the instruction of st.
func prompted(st stage) any {
	return mock.MatchedBy(func(s string) bool { return strings.HasPrefix(s, st.prompt) })
}

// pageRange matches a page slice equal to all[from:to].
func pageRange(all []model.PageImage, from, to int) any {
	return mock.MatchedBy(func(got []model.PageImage) bool {
		if len(got) != to-from {
			return false
		}
		for i := range got {
			if got[i] != all[from+i] {
				return false
			}
		}
		return true
	})
}

func expectStage(c *visionMocks.MockClient, st stage, reply string) {
	c.On("Invoke", mock.Anything, mock.Anything, prompted(st)).Return(reply, nil).Once()
}

func TestExtractionService_Extract(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		pageCount  int
		noStore    bool
		parallel   bool
		setupMocks func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository)
		check      func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository)
		wantErr    error
		wantSvcErr bool
	}{
		{
			name:      "new carrier is cached after a full run",
			pageCount: 20,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				all := pages(20)
				c.On("Invoke", mock.Anything, pageRange(all, 0, 5), prompted(identifyStage)).Return(identifyReply(symetra, ascent), nil).Once()
				c.On("Invoke", mock.Anything, pageRange(all, 0, 4), prompted(policyStage)).Return(policyReply, nil).Once()
				c.On("Invoke", mock.Anything, pageRange(all, 0, 12), prompted(projectionStage)).Return(projectionsReply(12), nil).Once()
				c.On("Invoke", mock.Anything, pageRange(all, 6, 12), prompted(expenseStage)).Return(expensesReply(8), nil).Once()

				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, nil).Once()
				r.On("SaveTemplate", mock.Anything, mock.MatchedBy(func(tpl *model.Template) bool {
					return tpl.Carrier == symetra &&
						tpl.Product == ascent &&
						tpl.UsageCount == 1 &&
						len(tpl.PageSignatures) == 0 &&
						len(tpl.FieldPatterns) == 0 &&
						tpl.SampleExtraction.ProjectionRows == 12 &&
						tpl.SampleExtraction.ExpenseRows == 8 &&
						tpl.SampleExtraction.PageCount == 20 &&
						tpl.SampleExtraction.FirstYear == 1 &&
						tpl.SampleExtraction.LastYear == 12
				})).Return(nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.Equal(t, symetra, res.Carrier)
				assert.Equal(t, ascent, res.Product)
				assert.False(t, res.TemplateUsed)
				assert.Equal(t, 0.9, res.Confidence)
				assert.Len(t, res.Projections, 12)
				assert.Len(t, res.Expenses, 8)
				assert.Equal(t, 12000.0, float64(res.Projections[0].Premium))
				require.NotNil(t, res.PolicyInfo.FaceAmount)
				assert.Equal(t, 1000000.0, res.PolicyInfo.FaceAmount.Float())
				r.AssertNumberOfCalls(t, "SaveTemplate", 1)
				r.AssertNotCalled(t, "IncrementUsage", mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name:      "same run with detail stages in parallel",
			pageCount: 20,
			parallel:  true,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				expectStage(c, policyStage, policyReply)
				expectStage(c, projectionStage, projectionsReply(12))
				expectStage(c, expenseStage, expensesReply(8))
				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, nil).Once()
				r.On("SaveTemplate", mock.Anything, mock.Anything).Return(nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.Equal(t, 0.9, res.Confidence)
				assert.Len(t, res.Projections, 12)
				assert.Len(t, res.Expenses, 8)
				require.NotNil(t, res.PolicyInfo.InsuredName)
				assert.Equal(t, "John Smith", *res.PolicyInfo.InsuredName)
				c.AssertNumberOfCalls(t, "Invoke", 4)
			},
		},
		{
			name:      "cached template is used and its usage bumped once",
			pageCount: 20,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				c.On("Invoke", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
					return strings.HasPrefix(s, policyStage.prompt) && strings.Contains(s, "insuredName, faceAmount")
				})).Return(policyReply, nil).Once()
				expectStage(c, projectionStage, projectionsReply(12))
				expectStage(c, expenseStage, expensesReply(8))

				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(&model.Template{
					Carrier:          symetra,
					Product:          ascent,
					UsageCount:       3,
					SampleExtraction: model.SampleSummary{PolicyFieldsFound: []string{"insuredName", "faceAmount"}},
				}, nil).Once()
				r.On("IncrementUsage", mock.Anything, symetra, ascent).Return(nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.True(t, res.TemplateUsed)
				r.AssertNumberOfCalls(t, "IncrementUsage", 1)
				r.AssertNotCalled(t, "SaveTemplate", mock.Anything, mock.Anything)
			},
		},
		{
			name:      "unconfigured store makes no template calls",
			pageCount: 20,
			noStore:   true,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				expectStage(c, policyStage, policyReply)
				expectStage(c, projectionStage, projectionsReply(12))
				expectStage(c, expenseStage, expensesReply(8))
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.False(t, res.TemplateUsed)
				assert.Equal(t, 0.9, res.Confidence)
				assert.Empty(t, r.Calls)
			},
		},
		{
			name:      "unknown carrier skips lookup and save",
			pageCount: 8,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply("Unknown", "Unknown"))
				expectStage(c, policyStage, policyReply)
				expectStage(c, projectionStage, projectionsReply(12))
				expectStage(c, expenseStage, expensesReply(0))
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.Equal(t, model.UnknownValue, res.Carrier)
				assert.False(t, res.TemplateUsed)
				assert.Empty(t, r.Calls)
			},
		},
		{
			name:      "five to nine rows is medium confidence and still cached",
			pageCount: 6,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply("Lincoln", "WealthAccumulate 2"))
				expectStage(c, policyStage, policyReply)
				expectStage(c, projectionStage, projectionsReply(5))
				expectStage(c, expenseStage, expensesReply(2))
				r.On("GetTemplate", mock.Anything, "Lincoln", "WealthAccumulate 2").Return(nil, nil).Once()
				r.On("SaveTemplate", mock.Anything, mock.MatchedBy(func(tpl *model.Template) bool {
					return tpl.UsageCount == 1 && tpl.SampleExtraction.ProjectionRows == 5
				})).Return(nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.Equal(t, 0.7, res.Confidence)
				r.AssertNumberOfCalls(t, "SaveTemplate", 1)
			},
		},
		{
			name:      "too few rows is low confidence and not cached",
			pageCount: 3,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				all := pages(3)
				c.On("Invoke", mock.Anything, pageRange(all, 0, 3), prompted(identifyStage)).Return(identifyReply(symetra, ascent), nil).Once()
				c.On("Invoke", mock.Anything, pageRange(all, 0, 3), prompted(policyStage)).Return(policyReply, nil).Once()
				c.On("Invoke", mock.Anything, pageRange(all, 0, 3), prompted(projectionStage)).Return(projectionsReply(4), nil).Once()
				c.On("Invoke", mock.Anything, pageRange(all, 0, 3), prompted(expenseStage)).Return(expensesReply(0), nil).Once()
				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.Equal(t, 0.5, res.Confidence)
				r.AssertNotCalled(t, "SaveTemplate", mock.Anything, mock.Anything)
			},
		},
		{
			name:      "store failures never reach the caller",
			pageCount: 12,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				expectStage(c, policyStage, policyReply)
				expectStage(c, projectionStage, projectionsReply(10))
				expectStage(c, expenseStage, expensesReply(3))
				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, errors.New("connection refused")).Once()
				r.On("SaveTemplate", mock.Anything, mock.Anything).Return(errors.New("status 503")).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.False(t, res.TemplateUsed)
				assert.Equal(t, 0.9, res.Confidence)
			},
		},
		{
			name:      "failed usage bump is ignored",
			pageCount: 4,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				expectStage(c, policyStage, policyReply)
				expectStage(c, projectionStage, projectionsReply(2))
				expectStage(c, expenseStage, expensesReply(2))
				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(&model.Template{Carrier: symetra, Product: ascent}, nil).Once()
				r.On("IncrementUsage", mock.Anything, symetra, ascent).Return(errors.New("rpc missing")).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.True(t, res.TemplateUsed)
				assert.Equal(t, 0.5, res.Confidence)
			},
		},
		{
			name:      "unparsable replies degrade to defaults",
			pageCount: 5,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, "I'm unable to read the carrier.")
				expectStage(c, policyStage, "no policy page")
				expectStage(c, projectionStage, "")
				expectStage(c, expenseStage, "{broken")
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				assert.Equal(t, model.UnknownValue, res.Carrier)
				assert.Equal(t, model.UnknownValue, res.Product)
				assert.Empty(t, res.PolicyInfo.FoundFields())
				assert.NotNil(t, res.Projections)
				assert.Empty(t, res.Projections)
				assert.Empty(t, res.Expenses)
				assert.Equal(t, 0.5, res.Confidence)
				assert.Empty(t, r.Calls)
			},
		},
		{
			name:      "model failure in identification aborts before lookup",
			pageCount: 5,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				c.On("Invoke", mock.Anything, mock.Anything, prompted(identifyStage)).
					Return("", &vision.ServiceError{StatusCode: 401, Message: "invalid x-api-key"}).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				c.AssertNumberOfCalls(t, "Invoke", 1)
				assert.Empty(t, r.Calls)
			},
			wantSvcErr: true,
		},
		{
			name:      "model failure in projections aborts without write-back",
			pageCount: 20,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				expectStage(c, policyStage, policyReply)
				c.On("Invoke", mock.Anything, mock.Anything, prompted(projectionStage)).
					Return("", &vision.ServiceError{StatusCode: 529, Message: "Overloaded"}).Once()
				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				c.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, prompted(expenseStage))
				r.AssertNotCalled(t, "SaveTemplate", mock.Anything, mock.Anything)
			},
			wantSvcErr: true,
		},
		{
			name:      "model failure in parallel mode aborts",
			pageCount: 20,
			parallel:  true,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				expectStage(c, identifyStage, identifyReply(symetra, ascent))
				c.On("Invoke", mock.Anything, mock.Anything, prompted(policyStage)).Return(policyReply, nil).Maybe()
				c.On("Invoke", mock.Anything, mock.Anything, prompted(projectionStage)).Return(projectionsReply(12), nil).Maybe()
				c.On("Invoke", mock.Anything, mock.Anything, prompted(expenseStage)).
					Return("", &vision.ServiceError{StatusCode: 500, Message: "internal"}).Once()
				r.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, nil).Once()
			},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				r.AssertNotCalled(t, "SaveTemplate", mock.Anything, mock.Anything)
			},
			wantSvcErr: true,
		},
		{
			name:       "no images",
			pageCount:  0,
			setupMocks: func(c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {},
			check: func(t *testing.T, res *model.ExtractionResult, c *visionMocks.MockClient, r *repoMocks.MockTemplateRepository) {
				c.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
			},
			wantErr: ErrNoImages,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mClient := new(visionMocks.MockClient)
			mRepo := new(repoMocks.MockTemplateRepository)
			tt.setupMocks(mClient, mRepo)

			var templates repository.TemplateRepository
			if !tt.noStore {
				templates = mRepo
			}

			svc := NewExtractionService(mClient, templates, Options{Parallel: tt.parallel, Logger: quietLogger()})
			res, err := svc.Extract(ctx, ExtractRequest{Images: pages(tt.pageCount)})

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
			case tt.wantSvcErr:
				require.Error(t, err)
				assert.Nil(t, res)
				var se *vision.ServiceError
				require.True(t, errors.As(err, &se))
				assert.NotEmpty(t, se.Message)
			default:
				require.NoError(t, err)
				require.NotNil(t, res)
				mClient.AssertExpectations(t)
				mRepo.AssertExpectations(t)
			}
			tt.check(t, res, mClient, mRepo)
		})
	}
}

func TestExtractionService_PageTexts(t *testing.T) {
	mClient := new(visionMocks.MockClient)
	mClient.On("Invoke", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.HasPrefix(s, identifyStage.prompt) && strings.Contains(s, "Text layer of page 1:\nSymetra Life Insurance Company")
	})).Return(identifyReply(symetra, ascent), nil).Once()
	mClient.On("Invoke", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
		return !strings.HasPrefix(s, identifyStage.prompt)
	})).Return("{}", nil).Times(3)

	svc := NewExtractionService(mClient, nil, Options{Logger: quietLogger()})
	res, err := svc.Extract(context.Background(), ExtractRequest{
		Images:    pages(2),
		PageTexts: []string{"Symetra Life Insurance Company"},
	})

	require.NoError(t, err)
	assert.Equal(t, symetra, res.Carrier)
	mClient.AssertExpectations(t)
}

func TestExtractionService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	mClient := new(visionMocks.MockClient)
	expectStage(mClient, identifyStage, identifyReply(symetra, ascent))
	expectStage(mClient, policyStage, "nothing here")
	expectStage(mClient, projectionStage, projectionsReply(6))
	expectStage(mClient, expenseStage, expensesReply(1))

	mRepo := new(repoMocks.MockTemplateRepository)
	mRepo.On("GetTemplate", mock.Anything, symetra, ascent).Return(nil, nil).Once()
	mRepo.On("SaveTemplate", mock.Anything, mock.Anything).Return(nil).Once()

	svc := NewExtractionService(mClient, mRepo, Options{Logger: quietLogger(), Metrics: metrics})
	_, err = svc.Extract(context.Background(), ExtractRequest{Images: pages(10)})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues(lookupMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fallbacks.WithLabelValues("policy")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.fallbacks.WithLabelValues("projections")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.writes.WithLabelValues("save", "ok")))
	assert.Equal(t, 4, testutil.CollectAndCount(metrics.stageDuration))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice on one registry fails")
}
