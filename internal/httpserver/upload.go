package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
)

const (
	imageFieldName     = "msgImage"
	maxImageBytes      = 10 << 20
	maxMultipartMemory = 1 << 20
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

var (
	errMissingImage  = errors.New("missing image file")
	errInvalidImage  = errors.New("invalid image format")
	errImageTooLarge = errors.New("image too large")
)

type uploadedImage struct {
	Data        []byte
	ContentType string
}

// parseImageUpload parses the multipart body and returns the validated image.
// Nothing touches the database before this succeeds. The caller must call
// cleanupMultipart once done with the form.
func (api *api) parseImageUpload(w http.ResponseWriter, r *http.Request) (uploadedImage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return uploadedImage{}, errImageTooLarge
		}
		return uploadedImage{}, errMissingImage
	}

	file, header, err := r.FormFile(imageFieldName)
	if err != nil {
		return uploadedImage{}, errMissingImage
	}
	defer file.Close()

	declared, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || !allowedImageTypes[declared] {
		return uploadedImage{}, errInvalidImage
	}

	data, err := api.stageImage(file, header)
	if err != nil {
		return uploadedImage{}, err
	}

	// The declared type must match the bytes.
	if sniffed := http.DetectContentType(data); sniffed != declared {
		return uploadedImage{}, errInvalidImage
	}
	return uploadedImage{Data: data, ContentType: declared}, nil
}

// stageImage copies the upload into a temp file under the upload directory
// and reads it back. The temp file is removed before returning on every path.
func (api *api) stageImage(file multipart.File, header *multipart.FileHeader) ([]byte, error) {
	if header.Size > maxImageBytes {
		return nil, errImageTooLarge
	}
	if err := os.MkdirAll(api.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(api.uploadDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			api.logger.Warn("remove staged upload failed", "error", err, "path", tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if n > maxImageBytes {
		return nil, errImageTooLarge
	}
	if n == 0 {
		return nil, errMissingImage
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind staged file: %w", err)
	}
	return io.ReadAll(tmp)
}

func cleanupMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// writeUploadError maps parseImageUpload failures to responses.
func (api *api) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMissingImage):
		api.writeError(w, kindMissingImageFile, msgMissingImageFile)
	case errors.Is(err, errInvalidImage):
		api.writeError(w, kindInvalidImageFormat, msgInvalidImageFormat)
	case errors.Is(err, errImageTooLarge):
		api.writeFieldErrors(w, []fieldError{{Msg: fmt.Sprintf("%s must be at most %d bytes", imageFieldName, maxImageBytes), Path: imageFieldName}})
	default:
		api.writeInternal(w, "stage upload failed", err)
	}
}
