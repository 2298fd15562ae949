package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	sc "github.com/avolkov/signdesk/internal/server/config"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/repositories/repomanager"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
	getObject = func(c *s3.Client, ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return c.GetObject(ctx, in)
	}
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// FileStore is the file/version storage contract consumed by the signing
// core: presigned upload/download plus direct object access for the
// finalizer.
type FileStore interface {
	PresignUpload(ctx context.Context, contentType string) (objectKey, uploadURL string, err error)
	CompleteVersion(ctx context.Context, objectKey, fileID, contentType string) (*models.FileVersion, error)
	GetDownloadURL(ctx context.Context, fileVersionID string) (string, error)
	GetObject(ctx context.Context, fileVersionID string) ([]byte, error)
	PublishVersion(ctx context.Context, fileID string, data []byte, contentType string) (*models.FileVersion, error)
}

// FileService stores version records in Postgres and the bytes in an
// S3-compatible backend.
type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
}

func NewFileService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config) *FileService {
	return &FileService{
		db:          db,
		repomanager: repomanager,
		config:      config,
	}
}

func GetRandomStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("contracts/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *FileService) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,     // MINIO_ROOT_USER
			s.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return client, nil
}

func (s *FileService) getPresignClient() (*s3.PresignClient, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	return newS3PresignClient(client), nil
}

// PresignUpload hands the caller a temporary PUT URL for the source PDF.
func (s *FileService) PresignUpload(ctx context.Context, contentType string) (string, string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := GetRandomStorageKey()

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		ContentType: &contentType,
	}, s3.WithPresignExpires(15*time.Minute))

	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// CompleteVersion records the uploaded object as the next version of the
// logical file.
func (s *FileService) CompleteVersion(ctx context.Context, objectKey, fileID, contentType string) (*models.FileVersion, error) {

	repo := s.repomanager.FileVersions(s.db)

	next, err := repo.NextVersion(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("error getting next version: %w", err)
	}

	fv := &models.FileVersion{
		ID:          "fv_" + uuid.NewString(),
		FileID:      fileID,
		Version:     next,
		StorageKey:  objectKey,
		ContentType: contentType,
	}

	if err := repo.Create(ctx, fv); err != nil {
		return nil, fmt.Errorf("error creating file version: %w", err)
	}

	return fv, nil
}

func (s *FileService) GetDownloadURL(ctx context.Context, fileVersionID string) (string, error) {

	repo := s.repomanager.FileVersions(s.db)

	fv, err := repo.GetByID(ctx, fileVersionID)
	if err != nil {
		return "", fmt.Errorf("error getting file version: %w", err)
	}

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &fv.StorageKey,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

func (s *FileService) GetObject(ctx context.Context, fileVersionID string) ([]byte, error) {

	repo := s.repomanager.FileVersions(s.db)

	fv, err := repo.GetByID(ctx, fileVersionID)
	if err != nil {
		return nil, fmt.Errorf("error getting file version: %w", err)
	}

	client, err := s.getClient()
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket

	out, err := getObject(client, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &fv.StorageKey,
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading object: %w", err)
	}

	return data, nil
}

// PublishVersion uploads the bytes under a fresh storage key and records
// them as the next version of the logical file.
func (s *FileService) PublishVersion(ctx context.Context, fileID string, data []byte, contentType string) (*models.FileVersion, error) {

	client, err := s.getClient()
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket
	key := GetRandomStorageKey()

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("error uploading object: %w", err)
	}

	return s.CompleteVersion(ctx, key, fileID, contentType)
}
