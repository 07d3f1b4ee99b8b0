// Package ffmpeg drives the external transcoder for a camera: live SRTP streams
// towards a HomeKit controller, fragmented MP4 sessions for recordings and snapshots.
//
// This package requires the `ffmpeg` command line tool to be installed. Install by running
// - use https://github.com/homebridge/ffmpeg-for-homebridge on linux
// - `sudo port install ffmpeg +nonfree` on macOS
//
// AAC-ELD audio requires an ffmpeg built with --enable-libfdk-aac.
// HomeKit supports multiple video codecs but h264 is mandatory. So make sure that a h264 encoder for ffmpeg is installed too.
package ffmpeg
