package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"training-portal/internal/domain"
	"training-portal/internal/infra/memory"
)

// QuizRepository caches quizzes in Redis and falls back to a loader on a miss.
// Each quiz is stored as the JSON document under quiz:course:{courseID}.
type QuizRepository struct {
	client *redis.Client
	loader memory.QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader memory.QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuizForCourse(ctx context.Context, courseID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, courseID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(courseID, func() (interface{}, error) {
		// another caller may have filled the cache while we waited
		if quiz, ok := r.cached(ctx, courseID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuizForCourse(ctx, courseID)
		if err != nil {
			return domain.Quiz{}, err
		}

		if data, err := json.Marshal(quiz); err == nil {
			_ = r.client.Set(ctx, r.key(courseID), data, r.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate drops the cached quizzes for the given courses.
func (r *QuizRepository) Invalidate(ctx context.Context, courseIDs ...string) error {
	if len(courseIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(courseIDs))
	for _, id := range courseIDs {
		keys = append(keys, r.key(id))
	}
	return r.client.Del(ctx, keys...).Err()
}

// cached treats any Redis or decode failure as a miss.
func (r *QuizRepository) cached(ctx context.Context, courseID string) (domain.Quiz, bool) {
	data, err := r.client.Get(ctx, r.key(courseID)).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (r *QuizRepository) key(courseID string) string {
	return "quiz:course:" + courseID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
