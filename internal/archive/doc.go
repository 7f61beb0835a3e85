// Package archive uploads finished index directories to S3 compatible object
// storage as gzip compressed tarballs.
package archive
