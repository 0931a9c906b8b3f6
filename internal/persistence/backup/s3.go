// Package backup copies closed audit files and world snapshots to an
// S3-compatible bucket.
package backup

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	signedHeaders  = "host;x-amz-content-sha256;x-amz-date"
)

// Config addresses a bucket. Region defaults to "auto", which is what R2
// and most S3-compatible stores accept.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// ConfigFromEnv reads STRUCTCRAFT_BACKUP_*. ok is false when no endpoint
// is set.
func ConfigFromEnv() (cfg Config, ok bool) {
	get := func(k string) string { return strings.TrimSpace(os.Getenv("STRUCTCRAFT_BACKUP_" + k)) }
	cfg = Config{
		Endpoint:        get("ENDPOINT"),
		Bucket:          get("BUCKET"),
		Region:          get("REGION"),
		AccessKeyID:     get("ACCESS_KEY_ID"),
		SecretAccessKey: get("SECRET_ACCESS_KEY"),
		Prefix:          get("PREFIX"),
	}
	return cfg, cfg.Endpoint != ""
}

// S3 is a minimal path-style PUT client signed with SigV4.
type S3 struct {
	endpoint string
	bucket   string
	region   string
	keyID    string
	secret   string
	http     *http.Client
	now      func() time.Time
}

func NewS3(cfg Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("backup: endpoint, bucket, access key and secret key are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("backup: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backup: invalid endpoint %s", endpoint)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	return &S3{
		endpoint: strings.TrimRight(u.String(), "/"),
		bucket:   cfg.Bucket,
		region:   region,
		keyID:    cfg.AccessKeyID,
		secret:   cfg.SecretAccessKey,
		http:     &http.Client{Timeout: 2 * time.Minute},
		now:      time.Now,
	}, nil
}

// PutFile uploads localPath as key.
func (c *S3) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("backup: empty object key")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("backup: %s is a directory", localPath)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	payloadHash := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	uri := "/" + c.bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+uri, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.sign(req, uri, payloadHash)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("backup: put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *S3) sign(req *http.Request, uri, payloadHash string) {
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	host := req.URL.Host

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	canonical := strings.Join([]string{
		req.Method,
		uri,
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signedHeaders,
		payloadHash,
	}, "\n")
	scope := day + "/" + c.region + "/" + sigV4Service + "/aws4_request"
	sum := sha256.Sum256([]byte(canonical))
	toSign := strings.Join([]string{sigV4Algorithm, amzDate, scope, hex.EncodeToString(sum[:])}, "\n")

	key := hmacSHA256([]byte("AWS4"+c.secret), []byte(day))
	key = hmacSHA256(key, []byte(c.region))
	key = hmacSHA256(key, []byte(sigV4Service))
	key = hmacSHA256(key, []byte("aws4_request"))
	sig := hex.EncodeToString(hmacSHA256(key, []byte(toSign)))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, c.keyID, scope, signedHeaders, sig))
}

func cleanKey(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "." || clean == "" {
		return ""
	}
	return clean
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
