package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go-meanfilter/pkg/common"
)

const (
	workersGroup    = "workers"
	assemblersGroup = "assemblers"

	// DefaultPrefix namespaces every key the service touches.
	DefaultPrefix = "mf"

	metadataTTL = 24 * time.Hour
)

// RedisClient carries band jobs and results over Redis Streams and keeps
// per-image metadata in plain keys.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{
		client: client,
		prefix: DefaultPrefix,
	}, nil
}

// WithPrefix returns a client sharing the connection under another key namespace.
func (r *RedisClient) WithPrefix(prefix string) *RedisClient {
	return &RedisClient{client: r.client, prefix: prefix}
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) jobsStream() string    { return r.prefix + ":jobs" }
func (r *RedisClient) resultsStream() string { return r.prefix + ":results" }
func (r *RedisClient) dlqJobsStream() string { return r.prefix + ":dlq:jobs" }
func (r *RedisClient) timingKey(runID string) string {
	return fmt.Sprintf("%s:run:%s:timing", r.prefix, runID)
}

func (r *RedisClient) imageKey(runID string, imageID int, suffix string) string {
	return fmt.Sprintf("%s:run:%s:image:%d:%s", r.prefix, runID, imageID, suffix)
}

// EnsureGroups creates both consumer groups. Existing groups are left alone.
func (r *RedisClient) EnsureGroups(ctx context.Context) error {
	for stream, group := range map[string]string{
		r.jobsStream():    workersGroup,
		r.resultsStream(): assemblersGroup,
	} {
		err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", group, stream, err)
		}
	}
	return nil
}

func (r *RedisClient) add(ctx context.Context, stream string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": b},
	}).Result()
}

// readOne reads at most one new message for consumer. A block of zero
// waits forever; a timeout yields an empty id and no error.
func (r *RedisClient) readOne(ctx context.Context, stream, group, consumer string, block time.Duration, v any) (string, error) {
	result, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(result) == 0 || len(result[0].Messages) == 0 {
		return "", nil
	}

	msg := result[0].Messages[0]
	if err := json.Unmarshal(bytesFromInterface(msg.Values["data"]), v); err != nil {
		return msg.ID, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	return msg.ID, nil
}

func (r *RedisClient) AddJob(ctx context.Context, job *common.JobMessage) (string, error) {
	return r.add(ctx, r.jobsStream(), job)
}

func (r *RedisClient) AddResult(ctx context.Context, res *common.ResultMessage) (string, error) {
	return r.add(ctx, r.resultsStream(), res)
}

// ReadJob returns ("", nil, nil) when nothing arrived within block. A
// message that cannot be decoded is returned with its id so it can be acked.
func (r *RedisClient) ReadJob(ctx context.Context, consumer string, block time.Duration) (string, *common.JobMessage, error) {
	var job common.JobMessage
	id, err := r.readOne(ctx, r.jobsStream(), workersGroup, consumer, block, &job)
	if err != nil || id == "" {
		return id, nil, err
	}
	return id, &job, nil
}

func (r *RedisClient) AckJob(ctx context.Context, id string) error {
	return r.client.XAck(ctx, r.jobsStream(), workersGroup, id).Err()
}

// ReadResult mirrors ReadJob for the results stream.
func (r *RedisClient) ReadResult(ctx context.Context, consumer string, block time.Duration) (string, *common.ResultMessage, error) {
	var res common.ResultMessage
	id, err := r.readOne(ctx, r.resultsStream(), assemblersGroup, consumer, block, &res)
	if err != nil || id == "" {
		return id, nil, err
	}
	return id, &res, nil
}

func (r *RedisClient) AckResult(ctx context.Context, id string) error {
	return r.client.XAck(ctx, r.resultsStream(), assemblersGroup, id).Err()
}

// StoreImageInfo saves info under its (RunID, ID) pair.
func (r *RedisClient) StoreImageInfo(ctx context.Context, info *common.ImageInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.imageKey(info.RunID, info.ID, "info"), b, metadataTTL).Err()
}

// GetImageInfo returns redis.Nil when the image was never stored.
func (r *RedisClient) GetImageInfo(ctx context.Context, runID string, imageID int) (*common.ImageInfo, error) {
	data, err := r.client.Get(ctx, r.imageKey(runID, imageID, "info")).Result()
	if err != nil {
		return nil, err
	}

	var info common.ImageInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *RedisClient) StoreTiming(ctx context.Context, t *common.TimingData) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.timingKey(t.RunID), b, metadataTTL).Err()
}

func (r *RedisClient) GetTiming(ctx context.Context, runID string) (*common.TimingData, error) {
	data, err := r.client.Get(ctx, r.timingKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	var t common.TimingData
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkBandReceived records a band for an image and reports whether it was new.
func (r *RedisClient) MarkBandReceived(ctx context.Context, runID string, imageID, band int) (bool, error) {
	key := r.imageKey(runID, imageID, "received")
	pipe := r.client.TxPipeline()
	added := pipe.SAdd(ctx, key, band)
	pipe.Expire(ctx, key, metadataTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("mark %s image %d band %d received: %w", runID, imageID, band, err)
	}
	return added.Val() == 1, nil
}

func (r *RedisClient) ReceivedCount(ctx context.Context, runID string, imageID int) (int64, error) {
	return r.client.SCard(ctx, r.imageKey(runID, imageID, "received")).Result()
}

func (r *RedisClient) MarkImageCompleted(ctx context.Context, runID string, imageID int) error {
	return r.client.Set(ctx, r.imageKey(runID, imageID, "status"), "completed", metadataTTL).Err()
}

func (r *RedisClient) IsImageCompleted(ctx context.Context, runID string, imageID int) (bool, error) {
	result, err := r.client.Get(ctx, r.imageKey(runID, imageID, "status")).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result == "completed", nil
}

// ClaimedJob is a job taken over from a consumer that stopped acking it.
type ClaimedJob struct {
	ID  string
	Job *common.JobMessage
}

// ClaimStaleJobs takes over jobs idle for at least minIdle. Jobs already
// delivered maxDeliveries times are moved to the dead-letter stream instead.
func (r *RedisClient) ClaimStaleJobs(ctx context.Context, consumer string, minIdle time.Duration, count int, maxDeliveries int64) ([]ClaimedJob, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.jobsStream(),
		Group:  workersGroup,
		Idle:   minIdle,
		Count:  int64(count),
		Start:  "-",
		End:    "+",
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(pending))
	var dead []string
	for _, p := range pending {
		if maxDeliveries > 0 && p.RetryCount >= maxDeliveries {
			dead = append(dead, p.ID)
			continue
		}
		ids = append(ids, p.ID)
	}
	if err := r.deadLetter(ctx, dead); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.jobsStream(),
		Group:    workersGroup,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]ClaimedJob, 0, len(claimed))
	for _, msg := range claimed {
		var job common.JobMessage
		if err := json.Unmarshal(bytesFromInterface(msg.Values["data"]), &job); err != nil {
			return jobs, fmt.Errorf("decode claimed message %s: %w", msg.ID, err)
		}
		jobs = append(jobs, ClaimedJob{ID: msg.ID, Job: &job})
	}
	return jobs, nil
}

func (r *RedisClient) deadLetter(ctx context.Context, ids []string) error {
	for _, id := range ids {
		msgs, err := r.client.XRange(ctx, r.jobsStream(), id, id).Result()
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := r.client.XAdd(ctx, &redis.XAddArgs{
				Stream: r.dlqJobsStream(),
				Values: msg.Values,
			}).Err(); err != nil {
				return err
			}
		}
		if err := r.AckJob(ctx, id); err != nil {
			return err
		}
		log.Printf("Queue: Job %s moved to %s", id, r.dlqJobsStream())
	}
	return nil
}

// DeadLetteredBands returns the band jobs of runID that were given up on.
func (r *RedisClient) DeadLetteredBands(ctx context.Context, runID string) ([]*common.BandJob, error) {
	msgs, err := r.client.XRange(ctx, r.dlqJobsStream(), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	var jobs []*common.BandJob
	for _, msg := range msgs {
		var job common.JobMessage
		if err := json.Unmarshal(bytesFromInterface(msg.Values["data"]), &job); err != nil {
			return nil, fmt.Errorf("decode dead-lettered message %s: %w", msg.ID, err)
		}
		if job.BandJob != nil && job.BandJob.RunID == runID {
			jobs = append(jobs, job.BandJob)
		}
	}
	return jobs, nil
}

// DeadLetterCount is the number of jobs given up on.
func (r *RedisClient) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.client.XLen(ctx, r.dlqJobsStream()).Result()
}

// bytesFromInterface handles Redis returning either string or []byte.
func bytesFromInterface(v interface{}) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		b, _ := json.Marshal(t)
		return b
	}
}
