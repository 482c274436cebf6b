package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/dumb-questions/internal/auth"
	"github.com/hatemosphere/dumb-questions/internal/storage"
)

func (s *Server) registerQuestions(api huma.API) {
	// --- List questions ---
	huma.Register(api, huma.Operation{
		OperationID: "listQuestions",
		Method:      http.MethodGet,
		Path:        "/api/questions",
		Tags:        []string{"Questions"},
	}, func(ctx context.Context, input *struct{}) (*ListQuestionsOutput, error) {
		user, err := s.currentUser(ctx)
		if err != nil {
			return nil, err
		}

		questions, err := s.store.ListQuestions(ctx)
		if err != nil {
			return nil, internalError(err)
		}

		out := &ListQuestionsOutput{}
		out.Body.Questions = make([]QuestionInfo, 0, len(questions))
		for _, q := range questions {
			out.Body.Questions = append(out.Body.Questions, questionToInfo(q, user))
		}
		return out, nil
	})

	// --- Post a question ---
	huma.Register(api, huma.Operation{
		OperationID:   "createQuestion",
		Method:        http.MethodPost,
		Path:          "/api/questions",
		Tags:          []string{"Questions"},
		DefaultStatus: 201,
		Errors:        []int{400},
	}, func(ctx context.Context, input *CreateQuestionInput) (*CreateQuestionOutput, error) {
		user, err := s.ensureCurrentUser(ctx)
		if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(input.Body.Text)
		if text == "" {
			return nil, huma.NewError(http.StatusBadRequest, "question text is required")
		}
		if len(text) > s.maxQuestionLen {
			return nil, huma.NewError(http.StatusBadRequest, "question text too long")
		}

		q := &storage.Question{Text: text, UserID: user.ID}
		if err := s.store.CreateQuestion(ctx, q); err != nil {
			return nil, internalError(err)
		}

		out := &CreateQuestionOutput{}
		out.Body = questionToInfo(*q, user)
		return out, nil
	})

	// --- Like a question ---
	huma.Register(api, huma.Operation{
		OperationID: "likeQuestion",
		Method:      http.MethodPost,
		Path:        "/api/questions/{questionId}/like",
		Tags:        []string{"Questions"},
		Errors:      []int{404},
	}, func(ctx context.Context, input *LikeQuestionInput) (*LikeQuestionOutput, error) {
		if _, err := requireIdentity(ctx); err != nil {
			return nil, err
		}

		likes, err := s.store.LikeQuestion(ctx, input.QuestionID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound("question not found")
		}
		if err != nil {
			return nil, internalError(err)
		}
		likesTotal.Inc()

		out := &LikeQuestionOutput{}
		out.Body.ID = input.QuestionID
		out.Body.Likes = likes
		return out, nil
	})

	// --- Delete a question (owner or admin) ---
	huma.Register(api, huma.Operation{
		OperationID:   "deleteQuestion",
		Method:        http.MethodDelete,
		Path:          "/api/questions/{questionId}",
		Tags:          []string{"Questions"},
		DefaultStatus: 204,
		Errors:        []int{403, 404},
	}, func(ctx context.Context, input *DeleteQuestionInput) (*struct{}, error) {
		identity, err := requireIdentity(ctx)
		if err != nil {
			return nil, err
		}

		q, err := s.store.GetQuestion(ctx, input.QuestionID)
		if err != nil {
			return nil, internalError(err)
		}
		if q == nil {
			return nil, notFound("question not found")
		}

		if !auth.IsAdmin(identity) {
			user, err := s.currentUser(ctx)
			if err != nil {
				return nil, err
			}
			if user == nil || user.ID != q.UserID {
				return nil, huma.NewError(http.StatusForbidden, "only the author or an admin may delete a question")
			}
		}

		if err := s.store.DeleteQuestion(ctx, input.QuestionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, notFound("question not found")
			}
			return nil, internalError(err)
		}
		return nil, nil
	})
}

// questionToInfo converts a storage question to the API type. user may be nil
// when the caller has no directory record yet.
func questionToInfo(q storage.Question, user *storage.User) QuestionInfo {
	return QuestionInfo{
		ID:        q.ID,
		Text:      q.Text,
		Likes:     q.Likes,
		CreatedAt: q.CreatedAt.Unix(),
		Mine:      user != nil && q.UserID == user.ID,
	}
}
