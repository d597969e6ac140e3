package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/answerdesk/answerdesk/config"
	"github.com/answerdesk/answerdesk/models"
	"github.com/answerdesk/answerdesk/services"
)

type Question struct {
	ID               int      `json:"id"`
	Question         string   `json:"question"`
	GroundTruth      string   `json:"ground_truth_answer"`
	RelevantKeywords []string `json:"relevant_keywords"`
	Notes            string   `json:"notes"`
}

type EvaluationResult struct {
	QuestionID        int      `json:"question_id"`
	Question          string   `json:"question"`
	Answer            string   `json:"answer"`
	RetrievedChunks   int      `json:"retrieved_chunks"`
	RelevantRetrieved int      `json:"relevant_retrieved"`
	ResponseTimeMs    int64    `json:"response_time_ms"`
	KeywordsFound     []string `json:"keywords_found"`
	Success           bool     `json:"success"`
	FScore            float64  `json:"f_score"`
}

type Metrics struct {
	TotalQuestions     int                    `json:"total_questions"`
	SuccessfulQueries  int                    `json:"successful_queries"`
	RetrievalAccuracy  float64                `json:"retrieval_accuracy"`
	AvgResponseTime    float64                `json:"avg_response_time_ms"`
	AvgChunksRetrieved float64                `json:"avg_chunks_retrieved"`
	AvgRelevantChunks  float64                `json:"avg_relevant_chunks"`
	AvgFScore          float64                `json:"avg_f_score"`
	Timestamp          string                 `json:"timestamp"`
	Configuration      map[string]interface{} `json:"configuration"`
}

type EvaluationReport struct {
	Metrics Metrics            `json:"metrics"`
	Results []EvaluationResult `json:"results"`
}

// Evaluator measures retrieval quality over a labelled question set against a
// single workspace's ingested corpus.
type Evaluator struct {
	config    *config.Config
	retriever *services.Retriever
	generator *services.Generator
}

func NewEvaluator(cfg *config.Config, retriever *services.Retriever, generator *services.Generator) *Evaluator {
	return &Evaluator{
		config:    cfg,
		retriever: retriever,
		generator: generator,
	}
}

func LoadDataset(filepath string) ([]Question, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	return questions, nil
}

func (e *Evaluator) Evaluate(questions []Question, workspaceID string) (*EvaluationReport, error) {
	results := make([]EvaluationResult, 0, len(questions))

	totalResponseTime := int64(0)
	totalRetrievedChunks := 0
	totalRelevantChunks := 0
	successfulQueries := 0

	ctx := context.Background()

	fmt.Println("Starting evaluation...")
	fmt.Printf("Workspace: %s\n", workspaceID)
	fmt.Printf("Total questions: %d\n", len(questions))
	fmt.Println("---")

	for i, q := range questions {
		fmt.Printf("[%d/%d] Evaluating: %s\n", i+1, len(questions), q.Question)

		startTime := time.Now()

		searchResults, err := e.retriever.Retrieve(ctx, workspaceID, q.Question, e.config.TopK)
		if err != nil {
			fmt.Printf("Failed: %v\n", err)
			continue
		}

		messages := []models.ChatMessage{
			{Role: models.RoleSystem, Content: buildEvalPrompt(searchResults)},
			{Role: models.RoleUser, Content: q.Question},
		}
		answer, err := e.generator.Chat(ctx, messages)
		if err != nil {
			fmt.Printf("Failed to generate: %v\n", err)
			continue
		}

		responseTime := time.Since(startTime).Milliseconds()

		// how many labelled keywords appear in the retrieved chunks
		keywordsFound := checkKeywords(q.RelevantKeywords, searchResults)
		relevantChunks := len(keywordsFound)

		// successful if at least one relevant keyword was retrieved
		success := relevantChunks > 0

		fScore := CalculateFScore(answer, q.GroundTruth, q.RelevantKeywords)

		results = append(results, EvaluationResult{
			QuestionID:        q.ID,
			Question:          q.Question,
			Answer:            answer,
			RetrievedChunks:   len(searchResults),
			RelevantRetrieved: relevantChunks,
			ResponseTimeMs:    responseTime,
			KeywordsFound:     keywordsFound,
			Success:           success,
			FScore:            fScore,
		})

		totalResponseTime += responseTime
		totalRetrievedChunks += len(searchResults)
		totalRelevantChunks += relevantChunks
		if success {
			successfulQueries++
		}

		fmt.Printf("Completed in %dms (relevant: %d/%d, F-Score: %.2f)\n", responseTime, relevantChunks, len(searchResults), fScore)
	}

	totalQuestions := len(results)
	retrievalAccuracy := 0.0
	avgResponseTime := 0.0
	avgChunksRetrieved := 0.0
	avgRelevantChunks := 0.0
	avgFScore := 0.0
	if totalQuestions > 0 {
		retrievalAccuracy = float64(successfulQueries) / float64(totalQuestions)
		avgResponseTime = float64(totalResponseTime) / float64(totalQuestions)
		avgChunksRetrieved = float64(totalRetrievedChunks) / float64(totalQuestions)
		avgRelevantChunks = float64(totalRelevantChunks) / float64(totalQuestions)

		totalFScore := 0.0
		for _, result := range results {
			totalFScore += result.FScore
		}
		avgFScore = totalFScore / float64(totalQuestions)
	}

	metrics := Metrics{
		TotalQuestions:     totalQuestions,
		SuccessfulQueries:  successfulQueries,
		RetrievalAccuracy:  retrievalAccuracy,
		AvgResponseTime:    avgResponseTime,
		AvgChunksRetrieved: avgChunksRetrieved,
		AvgRelevantChunks:  avgRelevantChunks,
		AvgFScore:          avgFScore,
		Timestamp:          time.Now().Format(time.RFC3339),
		Configuration: map[string]interface{}{
			"chunk_size":    e.config.ChunkSize,
			"chunk_overlap": e.config.ChunkOverlap,
			"top_k":         e.config.TopK,
			"embed_model":   e.config.OpenAIEmbedModel,
			"chat_model":    e.config.OpenAIChatModel,
		},
	}

	return &EvaluationReport{
		Metrics: metrics,
		Results: results,
	}, nil
}

func buildEvalPrompt(results []models.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context passages below.\n\nContext passages:\n")
	for i, res := range results {
		sb.WriteString(fmt.Sprintf("\n[%d] %s\n", i+1, res.Chunk.Content))
	}
	return sb.String()
}

// keywords that appear in at least one retrieved chunk (case-insensitive)
func checkKeywords(keywords []string, results []models.SearchResult) []string {
	found := []string{}

	for _, keyword := range keywords {
		for _, result := range results {
			if containsKeyword(result.Chunk.Content, keyword) {
				found = append(found, keyword)
				break
			}
		}
	}

	return found
}

func containsKeyword(text, keyword string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// calculate F1 score based on keyword matching
// F1 = 2 * (Precision * Recall) / (Precision + Recall)
// Higher is better (1.0 = perfect, 0.0 = worst)
func CalculateFScore(predictedAnswer string, groundTruth string, keywords []string) float64 {
	predictedLower := strings.ToLower(predictedAnswer)
	groundTruthLower := strings.ToLower(groundTruth)

	truePositives := 0
	falsePositives := 0
	falseNegatives := 0

	for _, keyword := range keywords {
		keywordLower := strings.ToLower(keyword)
		inPredicted := strings.Contains(predictedLower, keywordLower)
		inGroundTruth := strings.Contains(groundTruthLower, keywordLower)

		if inPredicted && inGroundTruth {
			truePositives++
		} else if inPredicted && !inGroundTruth {
			falsePositives++
		} else if !inPredicted && inGroundTruth {
			falseNegatives++
		}
	}

	precision := 0.0
	if truePositives+falsePositives > 0 {
		precision = float64(truePositives) / float64(truePositives+falsePositives)
	}

	recall := 0.0
	if truePositives+falseNegatives > 0 {
		recall = float64(truePositives) / float64(truePositives+falseNegatives)
	}

	fScore := 0.0
	if precision+recall > 0 {
		fScore = 2 * (precision * recall) / (precision + recall)
	}

	return fScore
}

// save the evaluation report to a JSON file, creating the results
// directory on first run
func SaveReport(report *EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// print a summary of the evaluation results
func PrintSummary(report *EvaluationReport) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("EVALUATION SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Total Questions:      %d\n", report.Metrics.TotalQuestions)
	fmt.Printf("Successful Queries:   %d\n", report.Metrics.SuccessfulQueries)
	fmt.Printf("Retrieval Accuracy:   %.2f%%\n", report.Metrics.RetrievalAccuracy*100)
	fmt.Printf("Avg F-Score:          %.3f\n", report.Metrics.AvgFScore)
	fmt.Printf("Avg Response Time:    %.0f ms\n", report.Metrics.AvgResponseTime)
	fmt.Printf("Avg Chunks Retrieved: %.1f\n", report.Metrics.AvgChunksRetrieved)
	fmt.Printf("Avg Relevant Chunks:  %.1f\n", report.Metrics.AvgRelevantChunks)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Println("\nConfiguration:")
	for key, value := range report.Metrics.Configuration {
		fmt.Printf("  %s: %v\n", key, value)
	}
	fmt.Println(strings.Repeat("=", 60) + "\n")
}
