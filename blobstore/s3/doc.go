// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("mirror/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Uploads go through the SDK transfer manager, so large index files are sent
// as multipart uploads. Listing follows continuation tokens.
package s3
